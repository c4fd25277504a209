/******************************************************************************
 *
 *  Description :
 *
 *    Client sessions. Each connection is served by its own goroutine
 *    running blocking request/response round trips. The dispatcher is
 *    shared between the raw TCP listener and the websocket handler:
 *    one request frame in, one response frame out.
 *
 *    Authorization lives here, above the controller: posting requires
 *    membership, privileged access-control changes require the acting
 *    user to hold the owner or creator bit. A refused request answers
 *    with a negative response; only a broken stream ends the session.
 *
 *****************************************************************************/

package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/wire"
)

// Dispatcher routes decoded requests to the controller or the view.
type Dispatcher struct {
	ctrl *Controller
	view *View
}

// Session is one live client connection.
type Session struct {
	sid      string
	conn     net.Conn
	disp     *Dispatcher
	idleWait time.Duration
}

func listenAndServe(lis net.Listener, disp *Dispatcher, idleWait time.Duration) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			logs.Info.Println("sess: listener closed:", err)
			return
		}
		sess := &Session{sid: conn.RemoteAddr().String(), conn: conn, disp: disp, idleWait: idleWait}
		go sess.serve()
	}
}

// serve runs the session's request loop until the stream breaks or the
// peer stays silent past the idle deadline.
func (s *Session) serve() {
	statsInc("LiveSessions", 1)
	statsInc("TotalSessions", 1)
	defer func() {
		statsInc("LiveSessions", -1)
		s.conn.Close()
	}()

	logs.Info.Println("sess: started", s.sid)
	for {
		if s.idleWait > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idleWait))
		}
		if err := s.disp.Dispatch(s.conn, s.conn); err != nil {
			if err != io.EOF {
				logs.Warn.Println("sess: closing", s.sid, "-", err)
			} else {
				logs.Info.Println("sess: closed", s.sid)
			}
			return
		}
	}
}

// Dispatch reads one request from r, executes it and writes the
// response to w. The returned error is a stream or framing failure;
// every application-level failure is reported inside the response.
func (d *Dispatcher) Dispatch(r io.Reader, w io.Writer) error {
	op, err := wire.ReadInt32(r)
	if err != nil {
		return err
	}

	switch op {
	case wire.OpNewUserRequest:
		name, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		return writeMaybeUser(w, wire.OpNewUserResponse, d.ctrl.NewUser(name))

	case wire.OpListUsersRequest:
		users := d.view.Users()
		if err := wire.WriteInt32(w, wire.OpListUsersResponse); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(users))); err != nil {
			return err
		}
		for _, u := range users {
			if err := wire.WriteUser(w, u); err != nil {
				return err
			}
		}
		return nil

	case wire.OpNewConversationRequest:
		title, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		owner, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		conv := d.ctrl.NewConversation(title, owner)
		if err := wire.WriteInt32(w, wire.OpNewConversationResponse); err != nil {
			return err
		}
		if err := wire.WriteBool(w, conv != nil); err != nil {
			return err
		}
		if conv != nil {
			return wire.WriteConversationHeader(w, conv)
		}
		return nil

	case wire.OpListConversationsRequest:
		convos := d.view.Conversations()
		if err := wire.WriteInt32(w, wire.OpListConversationsResponse); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(convos))); err != nil {
			return err
		}
		for _, c := range convos {
			if err := wire.WriteConversationHeader(w, c); err != nil {
				return err
			}
		}
		return nil

	case wire.OpNewMessageRequest:
		author, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		convo, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		body, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		var msg *types.Message
		if !d.view.AccessControl(convo, author).IsMember() {
			logs.Info.Println("sess: message refused, author is not a member of", convo)
		} else {
			msg = d.ctrl.NewMessage(author, convo, body)
		}
		if err := wire.WriteInt32(w, wire.OpNewMessageResponse); err != nil {
			return err
		}
		if err := wire.WriteBool(w, msg != nil); err != nil {
			return err
		}
		if msg != nil {
			return wire.WriteMessage(w, msg)
		}
		return nil

	case wire.OpGetMessagesByIdRequest:
		ids, err := wire.ReadUidSlice(r)
		if err != nil {
			return err
		}
		msgs := d.view.Messages(ids)
		if err := wire.WriteInt32(w, wire.OpGetMessagesByIdResponse); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(msgs))); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := wire.WriteMessage(w, m); err != nil {
				return err
			}
		}
		return nil

	case wire.OpServerInfoRequest:
		info := d.view.Info()
		if err := wire.WriteInt32(w, wire.OpServerInfoResponse); err != nil {
			return err
		}
		if err := wire.WriteString(w, info.Version); err != nil {
			return err
		}
		return wire.WriteTime(w, info.StartedAt)

	case wire.OpGetConversationPayloadsByIdRequest:
		ids, err := wire.ReadUidSlice(r)
		if err != nil {
			return err
		}
		convos := d.view.ConversationPayloads(ids)
		if err := wire.WriteInt32(w, wire.OpGetConversationPayloadsByIdResponse); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(convos))); err != nil {
			return err
		}
		for _, c := range convos {
			if err := wire.WriteConversationPayload(w, c); err != nil {
				return err
			}
		}
		return nil

	case wire.OpToggleMemberBitRequest, wire.OpToggleOwnerBitRequest,
		wire.OpToggleCreatorBitRequest, wire.OpToggleRemovedBitRequest:
		return d.dispatchToggle(op, r, w)

	case wire.OpGetAccessControlRequest:
		convo, user, err := readTwoUids(r)
		if err != nil {
			return err
		}
		mode := d.view.AccessControl(convo, user)
		if err := wire.WriteInt32(w, wire.OpGetAccessControlResponse); err != nil {
			return err
		}
		return wire.WriteInt32(w, int32(mode))

	case wire.OpGetUnseenCountRequest:
		user, convo, err := readTwoUids(r)
		if err != nil {
			return err
		}
		if err := wire.WriteInt32(w, wire.OpGetUnseenCountResponse); err != nil {
			return err
		}
		return wire.WriteInt32(w, int32(d.view.UnseenCount(user, convo)))

	case wire.OpUpdateUnseenCountRequest:
		user, convo, err := readTwoUids(r)
		if err != nil {
			return err
		}
		delta, err := wire.ReadInt32(r)
		if err != nil {
			return err
		}
		count, _ := d.ctrl.UpdateUnseenCount(user, convo, int(delta))
		if err := wire.WriteInt32(w, wire.OpUpdateUnseenCountResponse); err != nil {
			return err
		}
		return wire.WriteInt32(w, int32(count))

	case wire.OpGetLastStatusUpdateRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		when, ok := d.view.LastStatusUpdate(user)
		if err := wire.WriteInt32(w, wire.OpGetLastStatusUpdateResponse); err != nil {
			return err
		}
		return wire.WriteMaybeTime(w, when, ok)

	case wire.OpSetLastStatusUpdateRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		at, err := wire.ReadTime(r)
		if err != nil {
			return err
		}
		when, ok := d.ctrl.SetLastStatusUpdate(user, at)
		if err := wire.WriteInt32(w, wire.OpSetLastStatusUpdateResponse); err != nil {
			return err
		}
		return wire.WriteMaybeTime(w, when, ok)

	case wire.OpGetUpdatedConversationsRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		touched := d.view.UpdatedConversations(user)
		if err := wire.WriteInt32(w, wire.OpGetUpdatedConversationsResponse); err != nil {
			return err
		}
		return wire.WriteUidTimeMap(w, touched)

	case wire.OpAddUpdatedConversationRequest:
		user, convo, err := readTwoUids(r)
		if err != nil {
			return err
		}
		at, err := wire.ReadTime(r)
		if err != nil {
			return err
		}
		touched, _ := d.ctrl.AddUpdatedConversation(user, convo, at)
		if err := wire.WriteInt32(w, wire.OpAddUpdatedConversationResponse); err != nil {
			return err
		}
		return wire.WriteUidTimeMap(w, touched)

	case wire.OpGetUserInterestsRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		return writeUidSet(w, wire.OpGetUserInterestsResponse, d.view.UserInterests(user))

	case wire.OpAddUserInterestRequest:
		user, target, err := readTwoUids(r)
		if err != nil {
			return err
		}
		set, _ := d.ctrl.AddUserInterest(user, target)
		return writeUidSet(w, wire.OpAddUserInterestResponse, set)

	case wire.OpRemoveUserInterestRequest:
		user, target, err := readTwoUids(r)
		if err != nil {
			return err
		}
		set, _ := d.ctrl.RemoveUserInterest(user, target)
		return writeUidSet(w, wire.OpRemoveUserInterestResponse, set)

	case wire.OpGetConversationInterestsRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		return writeUidSet(w, wire.OpGetConversationInterestsResponse, d.view.ConversationInterests(user))

	case wire.OpAddConversationInterestRequest:
		user, convo, err := readTwoUids(r)
		if err != nil {
			return err
		}
		set, _ := d.ctrl.AddConversationInterest(user, convo)
		return writeUidSet(w, wire.OpAddConversationInterestResponse, set)

	case wire.OpRemoveConversationInterestRequest:
		user, convo, err := readTwoUids(r)
		if err != nil {
			return err
		}
		set, _ := d.ctrl.RemoveConversationInterest(user, convo)
		return writeUidSet(w, wire.OpRemoveConversationInterestResponse, set)

	case wire.OpStatusUpdateRequest:
		user, err := wire.ReadUid(r)
		if err != nil {
			return err
		}
		upd := d.ctrl.StatusUpdate(user)
		if err := wire.WriteInt32(w, wire.OpStatusUpdateResponse); err != nil {
			return err
		}
		if err := wire.WriteBool(w, upd != nil); err != nil {
			return err
		}
		if upd != nil {
			return wire.WriteStatusUpdate(w, upd)
		}
		return nil
	}

	return fmt.Errorf("sess: unknown operation code %d", op)
}

// dispatchToggle handles the four access-control toggles. The request
// names the acting user so privileged transitions can be checked:
// reinstating a removed user or flipping the removed flag needs the
// owner or creator bit, owner and creator changes need the creator bit
// and leaving is the member's own call.
func (d *Dispatcher) dispatchToggle(op int32, r io.Reader, w io.Writer) error {
	convo, err := wire.ReadUid(r)
	if err != nil {
		return err
	}
	actor, err := wire.ReadUid(r)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(r)
	if err != nil {
		return err
	}
	// The removed flag has no direction on the wire, it only goes up.
	flag := true
	if op != wire.OpToggleRemovedBitRequest {
		if flag, err = wire.ReadBool(r); err != nil {
			return err
		}
	}

	actorMode := d.view.AccessControl(convo, actor)
	targetMode := d.view.AccessControl(convo, target)

	allowed := false
	switch op {
	case wire.OpToggleMemberBitRequest:
		if flag {
			// Joining is open unless the target was removed; then only
			// an admin may let them back in.
			allowed = !targetMode.HasBeenRemoved() || actorMode.IsAdmin()
		} else {
			allowed = actor == target || actorMode.IsAdmin()
		}
	case wire.OpToggleOwnerBitRequest, wire.OpToggleCreatorBitRequest:
		allowed = actorMode.IsCreator()
	case wire.OpToggleRemovedBitRequest:
		allowed = actorMode.IsAdmin()
	}

	applied := false
	mode := targetMode
	if !allowed {
		logs.Info.Println("sess: access change refused, actor", actor, "lacks authority in", convo)
	} else {
		switch op {
		case wire.OpToggleMemberBitRequest:
			mode, applied = d.ctrl.ToggleMemberBit(convo, target, flag)
		case wire.OpToggleOwnerBitRequest:
			mode, applied = d.ctrl.ToggleOwnerBit(convo, target, flag)
		case wire.OpToggleCreatorBitRequest:
			mode, applied = d.ctrl.ToggleCreatorBit(convo, target, flag)
		case wire.OpToggleRemovedBitRequest:
			mode, applied = d.ctrl.SetRemovedBit(convo, target)
		}
	}

	if err := wire.WriteInt32(w, op+1); err != nil {
		return err
	}
	if err := wire.WriteBool(w, applied); err != nil {
		return err
	}
	return wire.WriteInt32(w, int32(mode))
}

func readTwoUids(r io.Reader) (types.Uid, types.Uid, error) {
	first, err := wire.ReadUid(r)
	if err != nil {
		return types.ZeroUid, types.ZeroUid, err
	}
	second, err := wire.ReadUid(r)
	if err != nil {
		return types.ZeroUid, types.ZeroUid, err
	}
	return first, second, nil
}

func writeMaybeUser(w io.Writer, op int32, user *types.User) error {
	if err := wire.WriteInt32(w, op); err != nil {
		return err
	}
	if err := wire.WriteBool(w, user != nil); err != nil {
		return err
	}
	if user != nil {
		return wire.WriteUser(w, user)
	}
	return nil
}

func writeUidSet(w io.Writer, op int32, set []types.Uid) error {
	if err := wire.WriteInt32(w, op); err != nil {
		return err
	}
	return wire.WriteUidSlice(w, set)
}
