package main

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/parley-im/parley/server/store"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/txlog"
	"github.com/parley-im/parley/server/wire"
)

func testDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	gen := &types.UidGenerator{}
	if err := gen.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("uid generator init failed: %v", err)
	}
	st := store.New(gen)
	journal := txlog.Open(filepath.Join(t.TempDir(), "transactions.log"))
	ctrl := NewController(st, journal)
	return &Dispatcher{ctrl: ctrl, view: NewView(st)}, st
}

// roundTrip sends one encoded request through the dispatcher and
// returns a reader over the response with the response code consumed
// and verified.
func roundTrip(t *testing.T, d *Dispatcher, expect int32, encode func(w *bytes.Buffer)) *bytes.Reader {
	t.Helper()
	var req, resp bytes.Buffer
	encode(&req)
	if err := d.Dispatch(&req, &resp); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	r := bytes.NewReader(resp.Bytes())
	code, err := wire.ReadInt32(r)
	if err != nil {
		t.Fatalf("Response has no code: %v", err)
	}
	if code != expect {
		t.Fatalf("Response code = %d, want %d", code, expect)
	}
	return r
}

func TestDispatchNewUser(t *testing.T) {
	d, _ := testDispatcher(t)

	r := roundTrip(t, d, wire.OpNewUserResponse, func(w *bytes.Buffer) {
		wire.WriteInt32(w, wire.OpNewUserRequest)
		wire.WriteString(w, "alice")
	})
	present, _ := wire.ReadBool(r)
	if !present {
		t.Fatal("NewUser response reports failure")
	}
	user, err := wire.ReadUser(r)
	if err != nil || user.Name != "alice" || user.Id.IsZero() {
		t.Fatalf("ReadUser = %+v, %v", user, err)
	}
}

func TestDispatchPostRequiresMembership(t *testing.T) {
	d, st := testDispatcher(t)

	alice := st.AddUser("alice", types.TimeNow())
	bob := st.AddUser("bob", types.TimeNow())
	conv := st.AddConversation("general", alice.Id, types.TimeNow())
	st.SetAccess(conv.Id, alice.Id, types.AccessMode.GrantCreator)

	post := func(author types.Uid) bool {
		r := roundTrip(t, d, wire.OpNewMessageResponse, func(w *bytes.Buffer) {
			wire.WriteInt32(w, wire.OpNewMessageRequest)
			wire.WriteUid(w, author)
			wire.WriteUid(w, conv.Id)
			wire.WriteString(w, "hello")
		})
		present, _ := wire.ReadBool(r)
		return present
	}

	// Bob is not a member yet; the post is refused above the controller.
	if post(bob.Id) {
		t.Error("Non-member's post was accepted")
	}
	if c := st.ConversationByID(conv.Id); !c.LastMessage.IsZero() {
		t.Error("Refused post still reached the chain")
	}

	st.SetAccess(conv.Id, bob.Id, types.AccessMode.GrantMember)
	if !post(bob.Id) {
		t.Error("Member's post was refused")
	}
}

func TestDispatchToggleAuthorization(t *testing.T) {
	d, st := testDispatcher(t)

	alice := st.AddUser("alice", types.TimeNow())
	bob := st.AddUser("bob", types.TimeNow())
	carol := st.AddUser("carol", types.TimeNow())
	conv := st.AddConversation("general", alice.Id, types.TimeNow())
	st.SetAccess(conv.Id, alice.Id, types.AccessMode.GrantCreator)

	toggle := func(op int32, actor, target types.Uid, flag bool) (bool, types.AccessMode) {
		r := roundTrip(t, d, op+1, func(w *bytes.Buffer) {
			wire.WriteInt32(w, op)
			wire.WriteUid(w, conv.Id)
			wire.WriteUid(w, actor)
			wire.WriteUid(w, target)
			if op != wire.OpToggleRemovedBitRequest {
				wire.WriteBool(w, flag)
			}
		})
		applied, _ := wire.ReadBool(r)
		mask, _ := wire.ReadInt32(r)
		return applied, types.AccessMode(mask)
	}

	// Joining is self-service.
	if applied, mode := toggle(wire.OpToggleMemberBitRequest, bob.Id, bob.Id, true); !applied || !mode.IsMember() {
		t.Errorf("Self-join refused: %v %s", applied, mode)
	}

	// Only the creator may hand out the owner bit.
	if applied, _ := toggle(wire.OpToggleOwnerBitRequest, bob.Id, bob.Id, true); applied {
		t.Error("Non-creator granted an owner bit")
	}
	if applied, mode := toggle(wire.OpToggleOwnerBitRequest, alice.Id, bob.Id, true); !applied || !mode.IsOwner() {
		t.Errorf("Creator's owner grant refused: %v %s", applied, mode)
	}

	// Flipping the removed flag needs the owner or creator bit.
	if applied, _ := toggle(wire.OpToggleRemovedBitRequest, carol.Id, bob.Id, false); applied {
		t.Error("Unprivileged removal was applied")
	}
	if applied, mode := toggle(wire.OpToggleRemovedBitRequest, alice.Id, carol.Id, false); !applied || !mode.HasBeenRemoved() {
		t.Errorf("Admin removal refused: %v %s", applied, mode)
	}

	// A removed user cannot rejoin on their own, an admin can let
	// them back in.
	if applied, _ := toggle(wire.OpToggleMemberBitRequest, carol.Id, carol.Id, true); applied {
		t.Error("Removed user rejoined without an admin")
	}
	if applied, mode := toggle(wire.OpToggleMemberBitRequest, alice.Id, carol.Id, true); !applied || !mode.IsMember() {
		t.Errorf("Admin reinstatement refused: %v %s", applied, mode)
	}
}

func TestDispatchServerInfo(t *testing.T) {
	d, _ := testDispatcher(t)

	r := roundTrip(t, d, wire.OpServerInfoResponse, func(w *bytes.Buffer) {
		wire.WriteInt32(w, wire.OpServerInfoRequest)
	})
	version, err := wire.ReadString(r)
	if err != nil || version != VERSION {
		t.Errorf("Version = %q, %v", version, err)
	}
	started, err := wire.ReadTime(r)
	if err != nil || started.IsZero() {
		t.Errorf("StartedAt = %v, %v", started, err)
	}
}

func TestDispatchUnknownOp(t *testing.T) {
	d, _ := testDispatcher(t)

	var req, resp bytes.Buffer
	wire.WriteInt32(&req, 9999)
	if err := d.Dispatch(&req, &resp); err == nil {
		t.Error("Unknown operation code must fail the session")
	}
}

func TestSessionDropsSilentPeer(t *testing.T) {
	d, _ := testDispatcher(t)
	client, server := net.Pipe()
	defer client.Close()

	sess := &Session{sid: "idle", conn: server, disp: d, idleWait: 20 * time.Millisecond}
	done := make(chan struct{})
	go func() {
		sess.serve()
		close(done)
	}()

	// The peer never sends a byte; the read deadline must end the
	// session instead of pinning the goroutine.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Silent session was not dropped")
	}
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("Connection still open after the idle drop")
	}
}

func TestDispatchStatusUpdate(t *testing.T) {
	d, st := testDispatcher(t)

	alice := st.AddUser("alice", types.TimeNow())

	r := roundTrip(t, d, wire.OpStatusUpdateResponse, func(w *bytes.Buffer) {
		wire.WriteInt32(w, wire.OpStatusUpdateRequest)
		wire.WriteUid(w, alice.Id)
	})
	present, _ := wire.ReadBool(r)
	if !present {
		t.Fatal("Status update for a known user reported failure")
	}
	upd, err := wire.ReadStatusUpdate(r)
	if err != nil || upd.User != alice.Id {
		t.Fatalf("ReadStatusUpdate = %+v, %v", upd, err)
	}

	// Unknown user: negative response, session stays usable.
	r = roundTrip(t, d, wire.OpStatusUpdateResponse, func(w *bytes.Buffer) {
		wire.WriteInt32(w, wire.OpStatusUpdateRequest)
		wire.WriteUid(w, types.Uid{42})
	})
	if present, _ := wire.ReadBool(r); present {
		t.Error("Status update for an unknown user reported success")
	}
}
