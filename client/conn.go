/******************************************************************************
 *
 *  Description :
 *
 *    Client side of the binary wire protocol. One Conn wraps one server
 *    connection; every method is a blocking request/response round
 *    trip. A transport or framing failure is logged and answered with
 *    a neutral value so the caller's command loop keeps running.
 *
 *****************************************************************************/

package client

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/wire"
)

// Conn is a client connection. Safe for concurrent use; round trips
// are serialized.
type Conn struct {
	mu   sync.Mutex
	conn io.Closer
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to a server's raw TCP endpoint.
func Dial(addr string) (*Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, conn), nil
}

// NewConn wraps an established transport. closer may be nil.
func NewConn(rw io.ReadWriter, closer io.Closer) *Conn {
	return &Conn{
		conn: closer,
		r:    bufio.NewReader(rw),
		w:    bufio.NewWriter(rw),
	}
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call performs one round trip: request code, request fields, flush,
// then the response code check and the response fields. Returns false
// on any failure; the failure is logged here so callers just pass the
// neutral value through.
func (c *Conn) call(op int32, writeReq func(io.Writer) error, readResp func(io.Reader) error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := wire.WriteInt32(c.w, op)
	if err == nil && writeReq != nil {
		err = writeReq(c.w)
	}
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		logs.Err.Println("client: request failed, op", op, "-", err)
		return false
	}

	code, err := wire.ReadInt32(c.r)
	if err != nil {
		logs.Err.Println("client: response failed, op", op, "-", err)
		return false
	}
	if code != op+1 {
		logs.Err.Println("client: op", op, "-", wire.ErrBadResponse, "code", code)
		return false
	}
	if readResp != nil {
		if err = readResp(c.r); err != nil {
			logs.Err.Println("client: response decode failed, op", op, "-", err)
			return false
		}
	}
	return true
}

// NewUser creates a user, nil on failure.
func (c *Conn) NewUser(name string) *types.User {
	var user *types.User
	c.call(wire.OpNewUserRequest,
		func(w io.Writer) error {
			return wire.WriteString(w, name)
		},
		func(r io.Reader) error {
			present, err := wire.ReadBool(r)
			if err != nil || !present {
				return err
			}
			user, err = wire.ReadUser(r)
			return err
		})
	return user
}

// ListUsers returns all users known to the server.
func (c *Conn) ListUsers() []*types.User {
	var users []*types.User
	c.call(wire.OpListUsersRequest, nil, func(r io.Reader) error {
		n, err := wire.ReadInt32(r)
		if err != nil {
			return err
		}
		for i := int32(0); i < n; i++ {
			user, err := wire.ReadUser(r)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users
}

// NewConversation creates a conversation owned by owner, nil on failure.
func (c *Conn) NewConversation(title string, owner types.Uid) *types.Conversation {
	var conv *types.Conversation
	c.call(wire.OpNewConversationRequest,
		func(w io.Writer) error {
			if err := wire.WriteString(w, title); err != nil {
				return err
			}
			return wire.WriteUid(w, owner)
		},
		func(r io.Reader) error {
			present, err := wire.ReadBool(r)
			if err != nil || !present {
				return err
			}
			conv, err = wire.ReadConversationHeader(r)
			return err
		})
	return conv
}

// ListConversations returns all conversation headers.
func (c *Conn) ListConversations() []*types.Conversation {
	var convos []*types.Conversation
	c.call(wire.OpListConversationsRequest, nil, func(r io.Reader) error {
		n, err := wire.ReadInt32(r)
		if err != nil {
			return err
		}
		for i := int32(0); i < n; i++ {
			conv, err := wire.ReadConversationHeader(r)
			if err != nil {
				return err
			}
			convos = append(convos, conv)
		}
		return nil
	})
	return convos
}

// NewMessage posts a message, nil on failure. The server refuses the
// post unless author currently holds the member bit.
func (c *Conn) NewMessage(author, convo types.Uid, body string) *types.Message {
	var msg *types.Message
	c.call(wire.OpNewMessageRequest,
		func(w io.Writer) error {
			if err := wire.WriteUid(w, author); err != nil {
				return err
			}
			if err := wire.WriteUid(w, convo); err != nil {
				return err
			}
			return wire.WriteString(w, body)
		},
		func(r io.Reader) error {
			present, err := wire.ReadBool(r)
			if err != nil || !present {
				return err
			}
			msg, err = wire.ReadMessage(r)
			return err
		})
	return msg
}

// MessagesByID resolves message ids to records; unknown ids are
// skipped by the server.
func (c *Conn) MessagesByID(ids []types.Uid) []*types.Message {
	var msgs []*types.Message
	c.call(wire.OpGetMessagesByIdRequest,
		func(w io.Writer) error {
			return wire.WriteUidSlice(w, ids)
		},
		func(r io.Reader) error {
			n, err := wire.ReadInt32(r)
			if err != nil {
				return err
			}
			for i := int32(0); i < n; i++ {
				msg, err := wire.ReadMessage(r)
				if err != nil {
					return err
				}
				msgs = append(msgs, msg)
			}
			return nil
		})
	return msgs
}

// ConversationPayloads resolves conversation ids to their message
// chain endpoints.
func (c *Conn) ConversationPayloads(ids []types.Uid) []*types.Conversation {
	var convos []*types.Conversation
	c.call(wire.OpGetConversationPayloadsByIdRequest,
		func(w io.Writer) error {
			return wire.WriteUidSlice(w, ids)
		},
		func(r io.Reader) error {
			n, err := wire.ReadInt32(r)
			if err != nil {
				return err
			}
			for i := int32(0); i < n; i++ {
				conv, err := wire.ReadConversationPayload(r)
				if err != nil {
					return err
				}
				convos = append(convos, conv)
			}
			return nil
		})
	return convos
}

// ServerInfo fetches server metadata, nil on failure.
func (c *Conn) ServerInfo() *types.ServerInfo {
	var info *types.ServerInfo
	c.call(wire.OpServerInfoRequest, nil, func(r io.Reader) error {
		version, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		started, err := wire.ReadTime(r)
		if err != nil {
			return err
		}
		info = &types.ServerInfo{Version: version, StartedAt: started}
		return nil
	})
	return info
}

// toggle performs one access-control toggle round trip. The removed
// toggle carries no direction flag.
func (c *Conn) toggle(op int32, convo, actor, target types.Uid, flag bool) (types.AccessMode, bool) {
	var mode types.AccessMode
	applied := false
	c.call(op,
		func(w io.Writer) error {
			if err := wire.WriteUid(w, convo); err != nil {
				return err
			}
			if err := wire.WriteUid(w, actor); err != nil {
				return err
			}
			if err := wire.WriteUid(w, target); err != nil {
				return err
			}
			if op == wire.OpToggleRemovedBitRequest {
				return nil
			}
			return wire.WriteBool(w, flag)
		},
		func(r io.Reader) error {
			var err error
			if applied, err = wire.ReadBool(r); err != nil {
				return err
			}
			mask, err := wire.ReadInt32(r)
			mode = types.AccessMode(mask)
			return err
		})
	return mode, applied
}

// ToggleMember grants or revokes target's membership on behalf of
// actor. Returns the resulting mode and whether the change applied.
func (c *Conn) ToggleMember(convo, actor, target types.Uid, member bool) (types.AccessMode, bool) {
	return c.toggle(wire.OpToggleMemberBitRequest, convo, actor, target, member)
}

// ToggleOwner grants or revokes target's owner bit on behalf of actor.
func (c *Conn) ToggleOwner(convo, actor, target types.Uid, owner bool) (types.AccessMode, bool) {
	return c.toggle(wire.OpToggleOwnerBitRequest, convo, actor, target, owner)
}

// ToggleCreator grants or revokes target's creator bit on behalf of
// actor.
func (c *Conn) ToggleCreator(convo, actor, target types.Uid, creator bool) (types.AccessMode, bool) {
	return c.toggle(wire.OpToggleCreatorBitRequest, convo, actor, target, creator)
}

// SetRemoved marks target as removed from the conversation on behalf
// of actor. The flag never clears.
func (c *Conn) SetRemoved(convo, actor, target types.Uid) (types.AccessMode, bool) {
	return c.toggle(wire.OpToggleRemovedBitRequest, convo, actor, target, false)
}

// AccessControl fetches the user's access mode in the conversation.
func (c *Conn) AccessControl(convo, user types.Uid) types.AccessMode {
	var mode types.AccessMode
	c.call(wire.OpGetAccessControlRequest,
		func(w io.Writer) error {
			if err := wire.WriteUid(w, convo); err != nil {
				return err
			}
			return wire.WriteUid(w, user)
		},
		func(r io.Reader) error {
			mask, err := wire.ReadInt32(r)
			mode = types.AccessMode(mask)
			return err
		})
	return mode
}

// UnseenCount fetches the user's unseen counter for the conversation.
func (c *Conn) UnseenCount(user, convo types.Uid) int {
	return c.countCall(wire.OpGetUnseenCountRequest, func(w io.Writer) error {
		if err := wire.WriteUid(w, user); err != nil {
			return err
		}
		return wire.WriteUid(w, convo)
	})
}

// UpdateUnseenCount adjusts the user's unseen counter by delta and
// returns the new value.
func (c *Conn) UpdateUnseenCount(user, convo types.Uid, delta int) int {
	return c.countCall(wire.OpUpdateUnseenCountRequest, func(w io.Writer) error {
		if err := wire.WriteUid(w, user); err != nil {
			return err
		}
		if err := wire.WriteUid(w, convo); err != nil {
			return err
		}
		return wire.WriteInt32(w, int32(delta))
	})
}

func (c *Conn) countCall(op int32, writeReq func(io.Writer) error) int {
	count := 0
	c.call(op, writeReq, func(r io.Reader) error {
		n, err := wire.ReadInt32(r)
		count = int(n)
		return err
	})
	return count
}

// LastStatusUpdate fetches the user's status watermark. The second
// value is false for an unknown user or a failed call.
func (c *Conn) LastStatusUpdate(user types.Uid) (time.Time, bool) {
	return c.watermarkCall(wire.OpGetLastStatusUpdateRequest, func(w io.Writer) error {
		return wire.WriteUid(w, user)
	})
}

// SetLastStatusUpdate moves the user's status watermark and returns
// the resulting value.
func (c *Conn) SetLastStatusUpdate(user types.Uid, at time.Time) (time.Time, bool) {
	return c.watermarkCall(wire.OpSetLastStatusUpdateRequest, func(w io.Writer) error {
		if err := wire.WriteUid(w, user); err != nil {
			return err
		}
		return wire.WriteTime(w, at)
	})
}

func (c *Conn) watermarkCall(op int32, writeReq func(io.Writer) error) (time.Time, bool) {
	var when time.Time
	present := false
	c.call(op, writeReq, func(r io.Reader) error {
		var err error
		when, present, err = wire.ReadMaybeTime(r)
		return err
	})
	return when, present
}

// UpdatedConversations fetches the user's touched-conversations map.
func (c *Conn) UpdatedConversations(user types.Uid) map[types.Uid]time.Time {
	return c.touchedCall(wire.OpGetUpdatedConversationsRequest, func(w io.Writer) error {
		return wire.WriteUid(w, user)
	})
}

// AddUpdatedConversation records the conversation as touched by the
// user and returns the full touched map.
func (c *Conn) AddUpdatedConversation(user, convo types.Uid, at time.Time) map[types.Uid]time.Time {
	return c.touchedCall(wire.OpAddUpdatedConversationRequest, func(w io.Writer) error {
		if err := wire.WriteUid(w, user); err != nil {
			return err
		}
		if err := wire.WriteUid(w, convo); err != nil {
			return err
		}
		return wire.WriteTime(w, at)
	})
}

func (c *Conn) touchedCall(op int32, writeReq func(io.Writer) error) map[types.Uid]time.Time {
	var touched map[types.Uid]time.Time
	c.call(op, writeReq, func(r io.Reader) error {
		var err error
		touched, err = wire.ReadUidTimeMap(r)
		return err
	})
	return touched
}

// UserInterests fetches the set of users this user follows.
func (c *Conn) UserInterests(user types.Uid) []types.Uid {
	return c.interestGet(wire.OpGetUserInterestsRequest, user)
}

// AddUserInterest makes user follow target and returns the updated set.
func (c *Conn) AddUserInterest(user, target types.Uid) []types.Uid {
	return c.interestToggle(wire.OpAddUserInterestRequest, user, target)
}

// RemoveUserInterest makes user unfollow target.
func (c *Conn) RemoveUserInterest(user, target types.Uid) []types.Uid {
	return c.interestToggle(wire.OpRemoveUserInterestRequest, user, target)
}

// ConversationInterests fetches the set of conversations this user
// follows.
func (c *Conn) ConversationInterests(user types.Uid) []types.Uid {
	return c.interestGet(wire.OpGetConversationInterestsRequest, user)
}

// AddConversationInterest makes user follow the conversation.
func (c *Conn) AddConversationInterest(user, convo types.Uid) []types.Uid {
	return c.interestToggle(wire.OpAddConversationInterestRequest, user, convo)
}

// RemoveConversationInterest makes user unfollow the conversation.
func (c *Conn) RemoveConversationInterest(user, convo types.Uid) []types.Uid {
	return c.interestToggle(wire.OpRemoveConversationInterestRequest, user, convo)
}

// interestGet runs the one-uid request layout shared by the two
// interest-set reads.
func (c *Conn) interestGet(op int32, user types.Uid) []types.Uid {
	var set []types.Uid
	c.call(op,
		func(w io.Writer) error {
			return wire.WriteUid(w, user)
		},
		func(r io.Reader) error {
			var err error
			set, err = wire.ReadUidSlice(r)
			return err
		})
	return set
}

// interestToggle runs the two-uid request layout shared by the four
// follow and unfollow calls. Both uids always go on the wire; a NULL
// target is the server's to refuse, never a framing change.
func (c *Conn) interestToggle(op int32, user, target types.Uid) []types.Uid {
	var set []types.Uid
	c.call(op,
		func(w io.Writer) error {
			if err := wire.WriteUid(w, user); err != nil {
				return err
			}
			return wire.WriteUid(w, target)
		},
		func(r io.Reader) error {
			var err error
			set, err = wire.ReadUidSlice(r)
			return err
		})
	return set
}

// StatusUpdate asks the server for the user's activity report since
// the last watermark, nil on failure. The call resets the reported
// unseen counters server side.
func (c *Conn) StatusUpdate(user types.Uid) *types.StatusUpdate {
	var upd *types.StatusUpdate
	c.call(wire.OpStatusUpdateRequest,
		func(w io.Writer) error {
			return wire.WriteUid(w, user)
		},
		func(r io.Reader) error {
			present, err := wire.ReadBool(r)
			if err != nil || !present {
				return err
			}
			upd, err = wire.ReadStatusUpdate(r)
			return err
		})
	return upd
}
