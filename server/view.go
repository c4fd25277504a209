/******************************************************************************
 *
 *  Description :
 *
 *    Read-only query surface over the store. The view never mutates
 *    anything; a lookup that does not resolve yields an empty result
 *    and a diagnostic, not an error.
 *
 *****************************************************************************/

package main

import (
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store"
	"github.com/parley-im/parley/server/store/types"
)

type View struct {
	store     *store.Store
	version   string
	startedAt time.Time
}

func NewView(st *store.Store) *View {
	return &View{store: st, version: VERSION, startedAt: types.TimeNow()}
}

// Users returns all users ordered by id.
func (v *View) Users() []*types.User {
	return v.store.Users()
}

// Conversations returns all conversation headers ordered by id.
func (v *View) Conversations() []*types.Conversation {
	return v.store.Conversations()
}

// ConversationPayloads resolves the given ids to conversation records.
// Unknown ids are skipped.
func (v *View) ConversationPayloads(ids []types.Uid) []*types.Conversation {
	return v.store.ConversationsByID(ids)
}

// Messages resolves the given ids to message records. Unknown ids are
// skipped.
func (v *View) Messages(ids []types.Uid) []*types.Message {
	return v.store.MessagesByID(ids)
}

// AccessControl returns the user's access mode in the conversation.
func (v *View) AccessControl(convo, user types.Uid) types.AccessMode {
	mode, ok := v.store.Access(convo, user)
	if !ok {
		logs.Info.Println("view: access lookup failed, unknown conversation or user")
	}
	return mode
}

// UnseenCount returns the user's unseen message counter for the
// conversation, zero if either id does not resolve.
func (v *View) UnseenCount(user, convo types.Uid) int {
	count, ok := v.store.UnseenCount(user, convo)
	if !ok {
		logs.Info.Println("view: unseen lookup failed, unknown conversation or user")
	}
	return count
}

// LastStatusUpdate returns the user's status watermark. The second
// value is false when the user does not resolve.
func (v *View) LastStatusUpdate(user types.Uid) (time.Time, bool) {
	when, ok := v.store.LastStatusUpdate(user)
	if !ok {
		logs.Info.Println("view: watermark lookup failed for", user)
	}
	return when, ok
}

// UpdatedConversations returns the user's touched-conversations map.
func (v *View) UpdatedConversations(user types.Uid) map[types.Uid]time.Time {
	touched, ok := v.store.UpdatedConversations(user)
	if !ok {
		logs.Info.Println("view: touched lookup failed for", user)
	}
	return touched
}

// UserInterests returns the set of users this user follows.
func (v *View) UserInterests(user types.Uid) []types.Uid {
	set, ok := v.store.UserInterests(user)
	if !ok {
		logs.Info.Println("view: interest lookup failed for", user)
	}
	return set
}

// ConversationInterests returns the set of conversations this user
// follows.
func (v *View) ConversationInterests(user types.Uid) []types.Uid {
	set, ok := v.store.ConversationInterests(user)
	if !ok {
		logs.Info.Println("view: interest lookup failed for", user)
	}
	return set
}

// Info returns server metadata.
func (v *View) Info() types.ServerInfo {
	return types.ServerInfo{Version: v.version, StartedAt: v.startedAt}
}
