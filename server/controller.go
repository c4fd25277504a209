/******************************************************************************
 *
 *  Description :
 *
 *    The controller is the single write path into the store. It validates
 *    each mutation, applies it together with its side effects, appends a
 *    journal record for every committed change and returns a null/zero
 *    sentinel on failure. Validation failures are logged and never
 *    propagate past the controller boundary.
 *
 *****************************************************************************/

package main

import (
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store"
	"github.com/parley-im/parley/server/store/types"
	"github.com/parley-im/parley/server/txlog"
)

type Controller struct {
	store   *store.Store
	journal *txlog.Log
}

func NewController(st *store.Store, journal *txlog.Log) *Controller {
	return &Controller{store: st, journal: journal}
}

// NewUser creates a user with the given name. Names are not unique.
func (c *Controller) NewUser(name string) *types.User {
	user := c.store.AddUser(name, types.TimeNow())
	if user == nil {
		logs.Warn.Println("ctrl: failed to allocate a new user id")
		return nil
	}
	c.journal.UserAdded(user)
	statsInc("Users", 1)
	return user
}

// NewConversation creates a conversation. The store grants the owner
// the creator bit, which carries the owner and member bits with it,
// atomically with the insert. The new conversation counts as activity
// of its owner.
func (c *Controller) NewConversation(title string, owner types.Uid) *types.Conversation {
	conv := c.store.AddConversation(title, owner, types.TimeNow())
	if conv == nil {
		logs.Warn.Println("ctrl: new conversation refused, unknown owner", owner)
		return nil
	}
	c.journal.ConversationAdded(conv)
	c.journal.CreatorAdded(conv.Id, owner)
	c.store.TouchConversation(owner, conv.Id, conv.CreatedAt)
	statsInc("Conversations", 1)
	return conv
}

// NewMessage appends a message to the conversation. Every current
// member except the author gains one unseen message and the
// conversation is recorded as the author's activity. Membership of the
// author is not checked here; that is the transport handler's job.
func (c *Controller) NewMessage(author, convo types.Uid, body string) *types.Message {
	msg := c.store.AddMessage(author, convo, body, types.TimeNow())
	if msg == nil {
		logs.Warn.Println("ctrl: new message refused, unknown author or conversation")
		return nil
	}
	c.journal.MessageAdded(msg, convo)
	c.store.BumpUnseenExcept(convo, author)
	c.store.TouchConversation(author, convo, msg.CreatedAt)
	statsInc("Messages", 1)
	return msg
}

// ToggleMemberBit grants or revokes conversation membership. Returns
// the resulting access mode and false if either id does not resolve.
func (c *Controller) ToggleMemberBit(convo, user types.Uid, member bool) (types.AccessMode, bool) {
	apply := types.AccessMode.GrantMember
	if !member {
		apply = types.AccessMode.RevokeMember
	}
	mode, ok := c.store.SetAccess(convo, user, apply)
	if !ok {
		logs.Warn.Println("ctrl: member toggle refused, unknown conversation or user")
		return mode, false
	}
	c.journal.MemberToggled(convo, user, member)
	return mode, true
}

// ToggleOwnerBit grants or revokes the owner bit. Granting implies
// membership; revoking also clears the creator bit.
func (c *Controller) ToggleOwnerBit(convo, user types.Uid, owner bool) (types.AccessMode, bool) {
	apply := types.AccessMode.GrantOwner
	if !owner {
		apply = types.AccessMode.RevokeOwner
	}
	mode, ok := c.store.SetAccess(convo, user, apply)
	if !ok {
		logs.Warn.Println("ctrl: owner toggle refused, unknown conversation or user")
		return mode, false
	}
	c.journal.OwnerToggled(convo, user, owner)
	return mode, true
}

// ToggleCreatorBit grants or revokes the creator bit. Only the grant
// leaves a journal record; revocation is not journaled.
func (c *Controller) ToggleCreatorBit(convo, user types.Uid, creator bool) (types.AccessMode, bool) {
	apply := types.AccessMode.GrantCreator
	if !creator {
		apply = types.AccessMode.RevokeCreator
	}
	mode, ok := c.store.SetAccess(convo, user, apply)
	if !ok {
		logs.Warn.Println("ctrl: creator toggle refused, unknown conversation or user")
		return mode, false
	}
	if creator {
		c.journal.CreatorAdded(convo, user)
	}
	return mode, true
}

// SetRemovedBit marks the user as removed from the conversation. The
// flag is one-way and the journal record is written only on the first
// transition.
func (c *Controller) SetRemovedBit(convo, user types.Uid) (types.AccessMode, bool) {
	mode, first, ok := c.store.SetRemoved(convo, user)
	if !ok {
		logs.Warn.Println("ctrl: removed toggle refused, unknown conversation or user")
		return mode, false
	}
	if first {
		c.journal.MemberRemoved(convo, user)
	}
	return mode, true
}

// UpdateUnseenCount adjusts the user's unseen counter for the
// conversation by delta, clamped at zero.
func (c *Controller) UpdateUnseenCount(user, convo types.Uid, delta int) (int, bool) {
	count, ok := c.store.UpdateUnseen(user, convo, delta)
	if !ok {
		logs.Warn.Println("ctrl: unseen update refused, unknown conversation or user")
	}
	return count, ok
}

// SetLastStatusUpdate moves the user's status watermark. The watermark
// only ever moves forward past the account creation time.
func (c *Controller) SetLastStatusUpdate(user types.Uid, at time.Time) (time.Time, bool) {
	when, ok := c.store.SetLastStatusUpdate(user, at)
	if !ok {
		logs.Warn.Println("ctrl: status watermark refused for", user)
	}
	return when, ok
}

// AddUpdatedConversation records the conversation as touched by the
// user at the given time and returns the full touched map.
func (c *Controller) AddUpdatedConversation(user, convo types.Uid, at time.Time) (map[types.Uid]time.Time, bool) {
	touched, ok := c.store.TouchConversation(user, convo, at)
	if !ok {
		logs.Warn.Println("ctrl: touch refused, unknown conversation or user")
	}
	return touched, ok
}

// AddUserInterest makes user follow target. Idempotent.
func (c *Controller) AddUserInterest(user, target types.Uid) ([]types.Uid, bool) {
	set, ok := c.store.AddUserInterest(user, target)
	if !ok {
		logs.Warn.Println("ctrl: follow-user refused, unknown user")
		return set, false
	}
	c.journal.UserInterestToggled(user, target, true)
	return set, true
}

// RemoveUserInterest makes user unfollow target.
func (c *Controller) RemoveUserInterest(user, target types.Uid) ([]types.Uid, bool) {
	set, ok := c.store.RemoveUserInterest(user, target)
	if !ok {
		logs.Warn.Println("ctrl: unfollow-user refused, unknown user")
		return set, false
	}
	c.journal.UserInterestToggled(user, target, false)
	return set, true
}

// AddConversationInterest makes user follow the conversation and
// resets the unseen counter so the follow starts clean.
func (c *Controller) AddConversationInterest(user, convo types.Uid) ([]types.Uid, bool) {
	set, ok := c.store.AddConversationInterest(user, convo)
	if !ok {
		logs.Warn.Println("ctrl: follow-conversation refused, unknown user or conversation")
		return set, false
	}
	c.journal.ConversationInterestToggled(user, convo, true)
	return set, true
}

// RemoveConversationInterest makes user unfollow the conversation.
func (c *Controller) RemoveConversationInterest(user, convo types.Uid) ([]types.Uid, bool) {
	set, ok := c.store.RemoveConversationInterest(user, convo)
	if !ok {
		logs.Warn.Println("ctrl: unfollow-conversation refused, unknown user or conversation")
		return set, false
	}
	c.journal.ConversationInterestToggled(user, convo, false)
	return set, true
}

// StatusUpdate builds the user's activity report since the last
// watermark, resets the reported unseen counters and advances the
// watermark, all in one step.
func (c *Controller) StatusUpdate(user types.Uid) *types.StatusUpdate {
	upd, ok := c.store.TakeStatusUpdate(user, types.TimeNow())
	if !ok {
		logs.Warn.Println("ctrl: status update refused, unknown user", user)
		return nil
	}
	return upd
}
