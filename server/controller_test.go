package main

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parley-im/parley/server/store"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/txlog"
)

func testController(t *testing.T) (*Controller, *store.Store, *txlog.Log) {
	t.Helper()
	gen := &types.UidGenerator{}
	if err := gen.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("uid generator init failed: %v", err)
	}
	st := store.New(gen)
	journal := txlog.Open(filepath.Join(t.TempDir(), "transactions.log"))
	return NewController(st, journal), st, journal
}

func TestNewConversationGrantsCreator(t *testing.T) {
	ctrl, st, journal := testController(t)

	alice := ctrl.NewUser("alice")
	if alice == nil {
		t.Fatal("NewUser returned nil")
	}
	conv := ctrl.NewConversation("general", alice.Id)
	if conv == nil {
		t.Fatal("NewConversation returned nil")
	}

	mode, ok := st.Access(conv.Id, alice.Id)
	if !ok || !mode.IsCreator() || !mode.IsOwner() || !mode.IsMember() {
		t.Errorf("Owner's access mode = %s, want MOC", mode)
	}
	if conv.AccessControls[alice.Id] != mode {
		t.Error("Returned conversation does not carry the owner's grant")
	}

	// Creating a conversation counts as the owner's activity.
	touched, _ := st.UpdatedConversations(alice.Id)
	if !touched[conv.Id].Equal(conv.CreatedAt) {
		t.Error("New conversation not recorded in owner's touched map")
	}

	// One record for the conversation, one for the creator grant,
	// plus the ADD-USER record.
	if n := journal.Pending(); n != 3 {
		t.Errorf("Journal holds %d records, want 3", n)
	}
}

func TestNewConversationUnknownOwner(t *testing.T) {
	ctrl, _, journal := testController(t)

	if conv := ctrl.NewConversation("general", types.Uid{9}); conv != nil {
		t.Error("NewConversation should fail for an unknown owner")
	}
	if journal.Pending() != 0 {
		t.Error("Failed mutation must not be journaled")
	}
}

func TestNewMessageSideEffects(t *testing.T) {
	ctrl, st, _ := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	conv := ctrl.NewConversation("general", alice.Id)
	st.SetAccess(conv.Id, bob.Id, types.AccessMode.GrantMember)

	msg := ctrl.NewMessage(alice.Id, conv.Id, "hello")
	if msg == nil {
		t.Fatal("NewMessage returned nil")
	}

	// Every member but the author gains one unseen message.
	if n, _ := st.UnseenCount(bob.Id, conv.Id); n != 1 {
		t.Errorf("Bob's unseen count = %d, want 1", n)
	}
	if n, _ := st.UnseenCount(alice.Id, conv.Id); n != 0 {
		t.Errorf("Author's unseen count = %d, want 0", n)
	}

	// Posting counts as the author's activity at the message time.
	touched, _ := st.UpdatedConversations(alice.Id)
	if !touched[conv.Id].Equal(msg.CreatedAt) {
		t.Error("Message not recorded in author's touched map")
	}

	payload := st.ConversationByID(conv.Id)
	if payload.FirstMessage != msg.Id || payload.LastMessage != msg.Id {
		t.Error("Chain endpoints do not point at the only message")
	}
}

func TestRemovedBitJournaledOnce(t *testing.T) {
	ctrl, _, journal := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	conv := ctrl.NewConversation("general", alice.Id)
	ctrl.ToggleMemberBit(conv.Id, bob.Id, true)
	journal.Flush()

	mode, ok := ctrl.SetRemovedBit(conv.Id, bob.Id)
	if !ok || !mode.HasBeenRemoved() {
		t.Fatalf("SetRemovedBit = %s, %v", mode, ok)
	}
	if journal.Pending() != 1 {
		t.Fatalf("First removal should journal one record, got %d", journal.Pending())
	}

	// Second removal is a no-op on the journal.
	if _, ok := ctrl.SetRemovedBit(conv.Id, bob.Id); !ok {
		t.Fatal("Repeated SetRemovedBit failed")
	}
	if journal.Pending() != 1 {
		t.Error("Repeated removal must not journal again")
	}
}

func TestRemovedBitJournaledOnceUnderContention(t *testing.T) {
	ctrl, _, journal := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	conv := ctrl.NewConversation("general", alice.Id)
	ctrl.ToggleMemberBit(conv.Id, bob.Id, true)
	journal.Flush()

	// Racing removals of the same pair still leave exactly one record.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := ctrl.SetRemovedBit(conv.Id, bob.Id); !ok {
				t.Error("SetRemovedBit failed during contention")
			}
		}()
	}
	wg.Wait()

	if n := journal.Pending(); n != 1 {
		t.Errorf("Contended removal journaled %d records, want 1", n)
	}
}

func TestCreatorRevokeNotJournaled(t *testing.T) {
	ctrl, _, journal := testController(t)

	alice := ctrl.NewUser("alice")
	conv := ctrl.NewConversation("general", alice.Id)
	journal.Flush()

	mode, ok := ctrl.ToggleCreatorBit(conv.Id, alice.Id, false)
	if !ok || mode.IsCreator() {
		t.Fatalf("ToggleCreatorBit = %s, %v", mode, ok)
	}
	if journal.Pending() != 0 {
		t.Error("Creator revocation must not be journaled")
	}
}

func TestFollowUserStatusUpdate(t *testing.T) {
	ctrl, _, _ := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	if _, ok := ctrl.AddUserInterest(alice.Id, bob.Id); !ok {
		t.Fatal("AddUserInterest failed")
	}

	// Timestamps are millisecond precision and the watermark comparison
	// is strict, so force distinct instants.
	time.Sleep(2 * time.Millisecond)
	conv := ctrl.NewConversation("news", bob.Id)
	ctrl.NewMessage(bob.Id, conv.Id, "first post")
	time.Sleep(2 * time.Millisecond)

	upd := ctrl.StatusUpdate(alice.Id)
	if upd == nil {
		t.Fatal("StatusUpdate returned nil")
	}
	if len(upd.Followed) != 1 || upd.Followed[0].User != bob.Id {
		t.Fatalf("Followed = %+v", upd.Followed)
	}
	act := upd.Followed[0].Activity
	if len(act) != 1 || act[0].Conversation != conv.Id {
		t.Fatalf("Activity = %+v", act)
	}
	// The conversation appeared after the watermark, so it is reported
	// as created as well as updated.
	if !act[0].Created {
		t.Error("Fresh conversation should be flagged as created")
	}

	// Nothing new since: the next report is empty.
	upd = ctrl.StatusUpdate(alice.Id)
	if len(upd.Followed) != 1 || len(upd.Followed[0].Activity) != 0 {
		t.Errorf("Second report should carry no activity, got %+v", upd.Followed)
	}
}

func TestFollowConversationResetsUnseen(t *testing.T) {
	ctrl, st, _ := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	conv := ctrl.NewConversation("general", bob.Id)
	ctrl.ToggleMemberBit(conv.Id, alice.Id, true)
	ctrl.AddConversationInterest(alice.Id, conv.Id)

	ctrl.NewMessage(bob.Id, conv.Id, "one")
	ctrl.NewMessage(bob.Id, conv.Id, "two")

	upd := ctrl.StatusUpdate(alice.Id)
	if len(upd.Conversations) != 1 || upd.Conversations[0].Unseen != 2 {
		t.Fatalf("Conversations = %+v", upd.Conversations)
	}

	// Reporting resets the counter.
	if n, _ := st.UnseenCount(alice.Id, conv.Id); n != 0 {
		t.Errorf("Unseen after report = %d, want 0", n)
	}
}

func TestInterestReplayRoundTrip(t *testing.T) {
	ctrl, st, journal := testController(t)

	alice := ctrl.NewUser("alice")
	bob := ctrl.NewUser("bob")
	conv := ctrl.NewConversation("general", bob.Id)
	ctrl.AddUserInterest(alice.Id, bob.Id)
	ctrl.AddConversationInterest(alice.Id, conv.Id)
	ctrl.AddConversationInterest(bob.Id, conv.Id)
	ctrl.RemoveConversationInterest(bob.Id, conv.Id)
	if err := journal.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Wipe interest state, then rebuild it from the journal. The users
	// themselves survive in this scenario so every record applies.
	st.RemoveUserInterest(alice.Id, bob.Id)
	st.RemoveConversationInterest(alice.Id, conv.Id)
	replayInterests(journal.Path(), st)

	if set, _ := st.UserInterests(alice.Id); len(set) != 1 || set[0] != bob.Id {
		t.Errorf("Replayed user interests = %v", set)
	}
	if set, _ := st.ConversationInterests(alice.Id); len(set) != 1 || set[0] != conv.Id {
		t.Errorf("Replayed conversation interests = %v", set)
	}
	if set, _ := st.ConversationInterests(bob.Id); len(set) != 0 {
		t.Errorf("Unfollow was not replayed, got %v", set)
	}
}
