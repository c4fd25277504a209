/******************************************************************************
 *
 *  Description :
 *    In-memory authoritative store. One coarse RWMutex guards every
 *    structural change: message-chain appends, access-control writes
 *    and interest-set writes all happen under the write lock, read
 *    projections under the read lock. Entities are inserted once and
 *    never deleted; values handed out are deep copies.
 *
 *****************************************************************************/

package store

import (
	"sort"
	"sync"
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store/types"
)

// Attempts before a colliding uid generator is declared broken. The id
// space is astronomically larger than the allocated count, so hitting
// this limit means misconfiguration, not bad luck.
const maxUidAttempts = 64

// Store is the in-memory model. Users, conversations and messages
// share one identifier namespace.
type Store struct {
	mu sync.RWMutex

	uidGen *types.UidGenerator

	users         map[types.Uid]*types.User
	conversations map[types.Uid]*types.Conversation
	messages      map[types.Uid]*types.Message
}

// New creates an empty store drawing identifiers from gen.
func New(gen *types.UidGenerator) *Store {
	return &Store{
		uidGen:        gen,
		users:         make(map[types.Uid]*types.User),
		conversations: make(map[types.Uid]*types.Conversation),
		messages:      make(map[types.Uid]*types.Message),
	}
}

// newUid returns an identifier free across the whole id space. The
// caller must hold the write lock so the uniqueness check is atomic
// with the subsequent insertion.
func (s *Store) newUid() types.Uid {
	for i := 0; i < maxUidAttempts; i++ {
		uid := s.uidGen.Get()
		if uid.IsZero() {
			break
		}
		if s.users[uid] == nil && s.conversations[uid] == nil && s.messages[uid] == nil {
			return uid
		}
	}
	logs.Err.Println("store: uid generator keeps colliding, check worker id and key")
	return types.ZeroUid
}

// AddUser inserts a new user record and returns a copy of it, nil if
// no identifier could be allocated.
func (s *Store) AddUser(name string, at time.Time) *types.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := s.newUid()
	if uid.IsZero() {
		return nil
	}

	user := types.NewUser(uid, name, at)
	s.users[uid] = user
	return user.Clone()
}

// AddConversation inserts a new conversation owned by owner and grants
// the owner the creator, owner and member bits. The insert and the
// grant share one critical section so no reader ever observes the
// conversation without a creator. Returns nil if the owner does not
// resolve.
func (s *Store) AddConversation(title string, owner types.Uid, at time.Time) *types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users[owner] == nil {
		return nil
	}
	uid := s.newUid()
	if uid.IsZero() {
		return nil
	}

	conv := types.NewConversation(uid, owner, title, at)
	conv.AccessControls[owner] = types.ModeNone.GrantCreator()
	s.conversations[uid] = conv
	return conv.Clone()
}

// AddMessage appends a message to the conversation's chain. Returns nil
// if the author or the conversation does not resolve. The append is
// atomic: the previous tail's Next pointer and the conversation's
// endpoints change under one write lock.
func (s *Store) AddMessage(author, convo types.Uid, body string, at time.Time) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[convo]
	if s.users[author] == nil || conv == nil {
		return nil
	}
	uid := s.newUid()
	if uid.IsZero() {
		return nil
	}

	msg := &types.Message{Id: uid, Author: author, CreatedAt: at, Body: body}
	s.messages[uid] = msg

	if conv.LastMessage.IsZero() {
		// Empty conversation: both endpoints point at the new message.
		conv.FirstMessage = uid
	} else {
		// Link the previous tail forward. Set exactly once.
		s.messages[conv.LastMessage].Next = uid
	}
	conv.LastMessage = uid

	out := *msg
	return &out
}

// UserByID returns a copy of the user record, nil if unknown.
func (s *Store) UserByID(uid types.Uid) *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user := s.users[uid]; user != nil {
		return user.Clone()
	}
	return nil
}

// ConversationByID returns a copy of the conversation record, nil if
// unknown.
func (s *Store) ConversationByID(uid types.Uid) *types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv := s.conversations[uid]; conv != nil {
		return conv.Clone()
	}
	return nil
}

// MessageByID returns a copy of the message record, nil if unknown.
func (s *Store) MessageByID(uid types.Uid) *types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if msg := s.messages[uid]; msg != nil {
		out := *msg
		return &out
	}
	return nil
}

// Users returns copies of all user records, ordered by id.
func (s *Store) Users() []*types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.Compare(out[j].Id) < 0 })
	return out
}

// Conversations returns copies of all conversation records, ordered
// by id.
func (s *Store) Conversations() []*types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.Compare(out[j].Id) < 0 })
	return out
}

// ConversationsByID returns copies of the conversations whose ids are
// in uids, silently skipping ids which do not resolve.
func (s *Store) ConversationsByID(uids []types.Uid) []*types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Conversation
	for _, uid := range uids {
		if conv := s.conversations[uid]; conv != nil {
			out = append(out, conv.Clone())
		}
	}
	return out
}

// MessagesByID returns copies of the messages whose ids are in uids,
// silently skipping ids which do not resolve.
func (s *Store) MessagesByID(uids []types.Uid) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Message
	for _, uid := range uids {
		if msg := s.messages[uid]; msg != nil {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

// Counts returns the number of users, conversations and messages.
func (s *Store) Counts() (users, conversations, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.conversations), len(s.messages)
}

// SetAccess applies a pure access-mode transition to the
// (conversation, user) pair and returns the resulting bitmask. ok is
// false if either id does not resolve.
func (s *Store) SetAccess(convo, user types.Uid, apply func(types.AccessMode) types.AccessMode) (types.AccessMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[convo]
	if conv == nil || s.users[user] == nil {
		return types.ModeNone, false
	}

	mode := apply(conv.AccessControls[user])
	conv.AccessControls[user] = mode
	return mode, true
}

// SetRemoved marks the (conversation, user) pair as removed. The flag
// is one-way. first reports whether this call made the transition,
// decided under the write lock so concurrent callers cannot both see
// an unremoved prior mode. ok is false if either id does not resolve.
func (s *Store) SetRemoved(convo, user types.Uid) (mode types.AccessMode, first, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[convo]
	if conv == nil || s.users[user] == nil {
		return types.ModeNone, false, false
	}

	before := conv.AccessControls[user]
	mode = before.SetRemoved()
	conv.AccessControls[user] = mode
	return mode, !before.HasBeenRemoved(), true
}

// Access returns the (conversation, user) bitmask, ModeNone for pairs
// never granted anything. ok is false if either id does not resolve.
func (s *Store) Access(convo, user types.Uid) (types.AccessMode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.conversations[convo]
	if conv == nil || s.users[user] == nil {
		return types.ModeNone, false
	}
	return conv.AccessControls[user], true
}

// UpdateUnseen adds delta to the user's unseen-message count for the
// conversation, clamped at a floor of zero, and returns the new count.
func (s *Store) UpdateUnseen(user, convo types.Uid, delta int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[convo]
	if conv == nil || s.users[user] == nil {
		return 0, false
	}

	count := conv.UnseenMessages[user] + delta
	if count < 0 {
		count = 0
	}
	conv.UnseenMessages[user] = count
	return count, true
}

// BumpUnseenExcept increments the unseen count of every current member
// of the conversation except the author of the new message.
func (s *Store) BumpUnseenExcept(convo, author types.Uid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[convo]
	if conv == nil {
		return false
	}
	for uid, mode := range conv.AccessControls {
		if uid != author && mode.IsMember() {
			conv.UnseenMessages[uid]++
		}
	}
	return true
}

// UnseenCount returns the user's unseen-message count for the
// conversation without changing it.
func (s *Store) UnseenCount(user, convo types.Uid) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.conversations[convo]
	if conv == nil || s.users[user] == nil {
		return 0, false
	}
	return conv.UnseenMessages[user], true
}

// SetLastStatusUpdate advances the user's status watermark. The time
// must be strictly after the user's creation time or the call fails.
func (s *Store) SetLastStatusUpdate(user types.Uid, at time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil || !at.After(u.CreatedAt) {
		return time.Time{}, false
	}
	u.LastStatusUpdate = at
	return u.LastStatusUpdate, true
}

// LastStatusUpdate returns the user's status watermark.
func (s *Store) LastStatusUpdate(user types.Uid) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.users[user]
	if u == nil {
		return time.Time{}, false
	}
	return u.LastStatusUpdate, true
}

// TouchConversation records that the user created or posted to the
// conversation at the given time. Returns a copy of the user's touched
// map.
func (s *Store) TouchConversation(user, convo types.Uid, at time.Time) (map[types.Uid]time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil || s.conversations[convo] == nil {
		return nil, false
	}

	u.UpdatedConversations[convo] = at
	return copyTimeMap(u.UpdatedConversations), true
}

// UpdatedConversations returns a copy of the user's touched map.
func (s *Store) UpdatedConversations(user types.Uid) (map[types.Uid]time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.users[user]
	if u == nil {
		return nil, false
	}
	return copyTimeMap(u.UpdatedConversations), true
}

// AddUserInterest adds target to the user's followed-user set and
// returns the updated set, ordered by id.
func (s *Store) AddUserInterest(user, target types.Uid) ([]types.Uid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil || s.users[target] == nil {
		return nil, false
	}
	u.UserInterests[target] = true
	return sortedUids(u.UserInterests), true
}

// RemoveUserInterest removes target from the user's followed-user set
// and returns the updated set.
func (s *Store) RemoveUserInterest(user, target types.Uid) ([]types.Uid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil || s.users[target] == nil {
		return nil, false
	}
	delete(u.UserInterests, target)
	return sortedUids(u.UserInterests), true
}

// UserInterests returns the user's followed-user set, ordered by id.
func (s *Store) UserInterests(user types.Uid) ([]types.Uid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.users[user]
	if u == nil {
		return nil, false
	}
	return sortedUids(u.UserInterests), true
}

// AddConversationInterest adds the conversation to the user's followed
// set and resets the user's unseen count for it, returning the updated
// set.
func (s *Store) AddConversationInterest(user, convo types.Uid) ([]types.Uid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	conv := s.conversations[convo]
	if u == nil || conv == nil {
		return nil, false
	}
	u.ConversationInterests[convo] = true
	conv.UnseenMessages[user] = 0
	return sortedUids(u.ConversationInterests), true
}

// RemoveConversationInterest removes the conversation from the user's
// followed set and returns the updated set.
func (s *Store) RemoveConversationInterest(user, convo types.Uid) ([]types.Uid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil || s.conversations[convo] == nil {
		return nil, false
	}
	delete(u.ConversationInterests, convo)
	return sortedUids(u.ConversationInterests), true
}

// ConversationInterests returns the user's followed-conversation set,
// ordered by id.
func (s *Store) ConversationInterests(user types.Uid) ([]types.Uid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.users[user]
	if u == nil {
		return nil, false
	}
	return sortedUids(u.ConversationInterests), true
}

// TakeStatusUpdate computes the user's status diff and applies its
// side effects in one atomic step: the unseen count of every followed
// conversation is reset to zero and the watermark advances to now.
// Entries are ordered by id so reports are deterministic.
func (s *Store) TakeStatusUpdate(user types.Uid, now time.Time) (*types.StatusUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[user]
	if u == nil {
		return nil, false
	}
	since := u.LastStatusUpdate

	upd := &types.StatusUpdate{User: user, TakenAt: now}

	for _, fid := range sortedUids(u.UserInterests) {
		followed := s.users[fid]
		if followed == nil {
			continue
		}
		report := types.FollowedUserActivity{User: fid, Name: followed.Name}
		for _, cid := range sortedUidKeys(followed.UpdatedConversations) {
			touched := followed.UpdatedConversations[cid]
			if !touched.After(since) {
				continue
			}
			conv := s.conversations[cid]
			if conv == nil {
				continue
			}
			report.Activity = append(report.Activity, types.ConversationActivity{
				Conversation: cid,
				Title:        conv.Title,
				Created:      conv.CreatedAt.After(since),
				TouchedAt:    touched,
			})
		}
		upd.Followed = append(upd.Followed, report)
	}

	for _, cid := range sortedUids(u.ConversationInterests) {
		conv := s.conversations[cid]
		if conv == nil {
			continue
		}
		upd.Conversations = append(upd.Conversations, types.FollowedConversation{
			Conversation: cid,
			Title:        conv.Title,
			Unseen:       conv.UnseenMessages[user],
		})
		// Reported, therefore seen.
		conv.UnseenMessages[user] = 0
	}

	if now.After(u.CreatedAt) {
		u.LastStatusUpdate = now
	}
	return upd, true
}

func copyTimeMap(in map[types.Uid]time.Time) map[types.Uid]time.Time {
	out := make(map[types.Uid]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedUids(set map[types.Uid]bool) []types.Uid {
	out := make([]types.Uid, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func sortedUidKeys(m map[types.Uid]time.Time) []types.Uid {
	out := make([]types.Uid, 0, len(m))
	for uid := range m {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
