// Package types defines the value types shared by the store, the wire
// codec and the transaction log: identifiers, access bitmasks and the
// three stored entities.
package types

import (
	"bytes"
	"encoding/base64"
	"errors"
	"time"
)

// Uid is an opaque 128-bit identifier. Users, conversations and
// messages share a single identifier namespace: an id used by one kind
// is never reused by another.
type Uid [16]byte

// ZeroUid is the NULL sentinel: "no reference".
var ZeroUid Uid

const uidBase64Unpadded = 22

// IsZero reports whether the uid is the NULL sentinel.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// Compare returns -1 if uid sorts before u2, 1 if after, 0 if equal.
func (uid Uid) Compare(u2 Uid) int {
	return bytes.Compare(uid[:], u2[:])
}

func (uid Uid) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 16)
	copy(dst, uid[:])
	return dst, nil
}

func (uid *Uid) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return errors.New("Uid.UnmarshalBinary: invalid length")
	}
	copy(uid[:], b)
	return nil
}

func (uid Uid) MarshalText() ([]byte, error) {
	if uid.IsZero() {
		return []byte{}, nil
	}
	dst := make([]byte, base64.RawURLEncoding.EncodedLen(16))
	base64.RawURLEncoding.Encode(dst, uid[:])
	return dst, nil
}

func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) != uidBase64Unpadded {
		return errors.New("Uid.UnmarshalText: invalid length")
	}
	dec := make([]byte, base64.RawURLEncoding.DecodedLen(len(src)))
	count, err := base64.RawURLEncoding.Decode(dec, src)
	if count < 16 {
		if err != nil {
			return errors.New("Uid.UnmarshalText: failed to decode " + err.Error())
		}
		return errors.New("Uid.UnmarshalText: failed to decode")
	}
	copy(uid[:], dec)
	return nil
}

func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses the unpadded base64url form produced by String.
// Returns ZeroUid if s is not parseable.
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// TimeNow returns current wall time in UTC rounded to milliseconds,
// the precision carried on the wire and in the transaction log.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// User is the stored user record. Created once, never deleted.
// The interest fields are mutated only by the controller under the
// store lock.
type User struct {
	Id        Uid
	Name      string
	CreatedAt time.Time

	// Watermark of the user's last status update. Initialized to
	// CreatedAt; only ever moves forward past it.
	LastStatusUpdate time.Time

	// Followed users and conversations.
	UserInterests         map[Uid]bool
	ConversationInterests map[Uid]bool

	// Conversations this user created or posted to, keyed to the time
	// of the last touch. Read by followers when computing status diffs.
	UpdatedConversations map[Uid]time.Time
}

// NewUser returns a user record with initialized interest maps.
func NewUser(id Uid, name string, at time.Time) *User {
	return &User{
		Id:                    id,
		Name:                  name,
		CreatedAt:             at,
		LastStatusUpdate:      at,
		UserInterests:         make(map[Uid]bool),
		ConversationInterests: make(map[Uid]bool),
		UpdatedConversations:  make(map[Uid]time.Time),
	}
}

// Clone returns a deep copy safe to use outside the store lock.
func (u *User) Clone() *User {
	out := &User{
		Id:                    u.Id,
		Name:                  u.Name,
		CreatedAt:             u.CreatedAt,
		LastStatusUpdate:      u.LastStatusUpdate,
		UserInterests:         make(map[Uid]bool, len(u.UserInterests)),
		ConversationInterests: make(map[Uid]bool, len(u.ConversationInterests)),
		UpdatedConversations:  make(map[Uid]time.Time, len(u.UpdatedConversations)),
	}
	for k, v := range u.UserInterests {
		out.UserInterests[k] = v
	}
	for k, v := range u.ConversationInterests {
		out.ConversationInterests[k] = v
	}
	for k, v := range u.UpdatedConversations {
		out.UpdatedConversations[k] = v
	}
	return out
}

// Conversation is the mutable per-conversation record, distinct from
// its messages. FirstMessage and LastMessage are ZeroUid if and only if
// the conversation holds no messages.
type Conversation struct {
	Id        Uid
	Owner     Uid
	Title     string
	CreatedAt time.Time

	FirstMessage Uid
	LastMessage  Uid

	// Access bitmask per user. A missing entry reads as ModeNone.
	AccessControls map[Uid]AccessMode

	// Count of messages each user has not yet seen.
	UnseenMessages map[Uid]int
}

// NewConversation returns a conversation record with initialized maps.
// Access grants are the controller's job, not done here.
func NewConversation(id, owner Uid, title string, at time.Time) *Conversation {
	return &Conversation{
		Id:             id,
		Owner:          owner,
		Title:          title,
		CreatedAt:      at,
		AccessControls: make(map[Uid]AccessMode),
		UnseenMessages: make(map[Uid]int),
	}
}

// Access returns the user's bitmask, ModeNone for users never granted
// anything.
func (c *Conversation) Access(user Uid) AccessMode {
	return c.AccessControls[user]
}

// Clone returns a deep copy safe to use outside the store lock.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		Id:             c.Id,
		Owner:          c.Owner,
		Title:          c.Title,
		CreatedAt:      c.CreatedAt,
		FirstMessage:   c.FirstMessage,
		LastMessage:    c.LastMessage,
		AccessControls: make(map[Uid]AccessMode, len(c.AccessControls)),
		UnseenMessages: make(map[Uid]int, len(c.UnseenMessages)),
	}
	for k, v := range c.AccessControls {
		out.AccessControls[k] = v
	}
	for k, v := range c.UnseenMessages {
		out.UnseenMessages[k] = v
	}
	return out
}

// Message is one entry of a conversation's forward-only message chain.
// Immutable once created except for Next, which is written exactly once
// when the following message is appended.
type Message struct {
	Id        Uid
	Author    Uid
	CreatedAt time.Time
	Body      string

	// Next message in the same conversation, ZeroUid at the tail.
	Next Uid
}

// ServerInfo is the server metadata reported to clients.
type ServerInfo struct {
	Version   string
	StartedAt time.Time
}

// ConversationActivity is one conversation a followed user touched
// after the observer's watermark. Created is additionally set when the
// conversation itself was created after the watermark; such an entry
// reads as both "created" and "updated".
type ConversationActivity struct {
	Conversation Uid
	Title        string
	Created      bool
	TouchedAt    time.Time
}

// FollowedUserActivity reports one followed user's conversations
// touched since the observer's last status update.
type FollowedUserActivity struct {
	User     Uid
	Name     string
	Activity []ConversationActivity
}

// FollowedConversation reports the unseen-message count of one followed
// conversation at the moment the status update was taken.
type FollowedConversation struct {
	Conversation Uid
	Title        string
	Unseen       int
}

// StatusUpdate is the diff returned by a status-update operation.
// Taking it has side effects: reported unseen counts are reset and the
// user's watermark advances to TakenAt.
type StatusUpdate struct {
	User          Uid
	TakenAt       time.Time
	Followed      []FollowedUserActivity
	Conversations []FollowedConversation
}
