/******************************************************************************
 *
 *  Description :
 *
 *    Interaction state of a client: an explicit three-state machine.
 *    At the root nobody is signed in; signing in selects a user;
 *    joining selects a conversation on top of that. Transitions that
 *    are not listed are refused and leave the machine unchanged.
 *
 *****************************************************************************/

package client

import "github.com/parley-im/parley/server/store/types"

// State of the interaction machine.
type State int

const (
	// StateRoot: no user selected.
	StateRoot State = iota
	// StateSignedIn: a user is selected, no conversation.
	StateSignedIn
	// StateInConversation: a user and a conversation are selected.
	StateInConversation
)

func (s State) String() string {
	switch s {
	case StateRoot:
		return "root"
	case StateSignedIn:
		return "signed-in"
	case StateInConversation:
		return "in-conversation"
	}
	return "invalid"
}

// Machine tracks which user and conversation the client currently
// operates as. Not safe for concurrent use; a client drives it from
// its single command loop.
type Machine struct {
	state State

	user         types.Uid
	conversation types.Uid
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// User returns the signed-in user, ZeroUid at the root.
func (m *Machine) User() types.Uid {
	return m.user
}

// Conversation returns the joined conversation, ZeroUid unless
// in-conversation.
func (m *Machine) Conversation() types.Uid {
	return m.conversation
}

// SignIn moves root -> signed-in as the given user.
func (m *Machine) SignIn(user types.Uid) bool {
	if m.state != StateRoot || user.IsZero() {
		return false
	}
	m.state = StateSignedIn
	m.user = user
	return true
}

// SignOut drops back to the root from any signed-in state.
func (m *Machine) SignOut() bool {
	if m.state == StateRoot {
		return false
	}
	m.state = StateRoot
	m.user = types.ZeroUid
	m.conversation = types.ZeroUid
	return true
}

// Join moves signed-in -> in-conversation.
func (m *Machine) Join(convo types.Uid) bool {
	if m.state != StateSignedIn || convo.IsZero() {
		return false
	}
	m.state = StateInConversation
	m.conversation = convo
	return true
}

// Leave moves in-conversation -> signed-in, keeping the user.
func (m *Machine) Leave() bool {
	if m.state != StateInConversation {
		return false
	}
	m.state = StateSignedIn
	m.conversation = types.ZeroUid
	return true
}
