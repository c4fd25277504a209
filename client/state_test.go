package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parley-im/parley/server/store/types"
)

func TestMachineHappyPath(t *testing.T) {
	alice := types.Uid{1}
	general := types.Uid{2}

	var m Machine
	assert.Equal(t, StateRoot, m.State())

	assert.True(t, m.SignIn(alice))
	assert.Equal(t, StateSignedIn, m.State())
	assert.Equal(t, alice, m.User())

	assert.True(t, m.Join(general))
	assert.Equal(t, StateInConversation, m.State())
	assert.Equal(t, general, m.Conversation())

	assert.True(t, m.Leave())
	assert.Equal(t, StateSignedIn, m.State())
	assert.True(t, m.Conversation().IsZero())
	// The user survives leaving the conversation.
	assert.Equal(t, alice, m.User())

	assert.True(t, m.SignOut())
	assert.Equal(t, StateRoot, m.State())
	assert.True(t, m.User().IsZero())
}

func TestMachineRefusedTransitions(t *testing.T) {
	alice := types.Uid{1}
	general := types.Uid{2}

	var m Machine

	// Nothing but sign-in works at the root.
	assert.False(t, m.Join(general))
	assert.False(t, m.Leave())
	assert.False(t, m.SignOut())
	assert.Equal(t, StateRoot, m.State())

	// The NULL sentinel is not a user.
	assert.False(t, m.SignIn(types.ZeroUid))

	m.SignIn(alice)
	// Double sign-in and leaving without joining are refused.
	assert.False(t, m.SignIn(alice))
	assert.False(t, m.Leave())
	assert.False(t, m.Join(types.ZeroUid))
	assert.Equal(t, StateSignedIn, m.State())

	m.Join(general)
	assert.False(t, m.Join(general))

	// Signing out from inside a conversation clears both selections.
	assert.True(t, m.SignOut())
	assert.True(t, m.User().IsZero())
	assert.True(t, m.Conversation().IsZero())
}
