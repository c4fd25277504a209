package txlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-im/parley/server/store/types"
)

func tempJournal(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "transactions.log")
}

func mustUid(t *testing.T, b byte) types.Uid {
	t.Helper()
	var uid types.Uid
	uid[15] = b
	return uid
}

func TestFlushWritesQueuedLines(t *testing.T) {
	path := tempJournal(t)
	l := Open(path)

	user := &types.User{Id: mustUid(t, 1), Name: "alice", CreatedAt: types.TimeNow()}
	l.UserAdded(user)
	l.UserInterestToggled(mustUid(t, 1), mustUid(t, 2), true)

	assert.Equal(t, 2, l.Pending())
	require.NoError(t, l.Flush())
	assert.Equal(t, 0, l.Pending())

	// A second flush with an empty queue must not touch the file.
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := "ADD-USER " + user.Id.String() + " \"alice\" " +
		"" + msString(user.CreatedAt) + "\n" +
		"ADD-INTEREST-USER " + mustUid(t, 1).String() + " " + mustUid(t, 2).String() + "\n"
	assert.Equal(t, expected, string(data))
}

func msString(tm time.Time) string {
	return ms(tm)
}

func TestFlushAppends(t *testing.T) {
	path := tempJournal(t)
	l := Open(path)

	l.MemberToggled(mustUid(t, 1), mustUid(t, 2), true)
	require.NoError(t, l.Flush())
	l.MemberToggled(mustUid(t, 1), mustUid(t, 2), false)
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ADD-CONVO-MEMBER ")
	assert.Contains(t, string(data), "REMOVE-CONVO-MEMBER ")
}

func TestFlushFailureClearsQueue(t *testing.T) {
	// A directory path cannot be opened as a file, so every flush fails.
	l := Open(t.TempDir())
	l.UserInterestToggled(mustUid(t, 1), mustUid(t, 2), true)

	assert.Error(t, l.Flush())
	// Committed state stands; the queue does not grow without bound.
	assert.Equal(t, 0, l.Pending())
}

func TestRunDrainsOnStop(t *testing.T) {
	path := tempJournal(t)
	l := Open(path)
	go l.Run(time.Hour)

	l.ConversationInterestToggled(mustUid(t, 1), mustUid(t, 3), true)
	l.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ADD-INTEREST-CONVERSATION ")
}

func TestParseRoundTrip(t *testing.T) {
	now := types.TimeNow()
	user := mustUid(t, 1)
	convo := mustUid(t, 2)
	msgId := mustUid(t, 3)

	l := Open(tempJournal(t))
	l.UserAdded(&types.User{Id: user, Name: `quo"ted name`, CreatedAt: now})
	l.ConversationAdded(&types.Conversation{Id: convo, Owner: user, Title: "a longer title", CreatedAt: now})
	l.CreatorAdded(convo, user)
	l.MessageAdded(&types.Message{Id: msgId, Author: user, CreatedAt: now, Body: "hi there"}, convo)
	l.MemberRemoved(convo, user)
	l.OwnerToggled(convo, user, false)

	l.mu.Lock()
	lines := append([]string(nil), l.pending...)
	l.mu.Unlock()
	require.Len(t, lines, 6)

	recs := make([]Record, len(lines))
	for i, line := range lines {
		rec, err := Parse(line)
		require.NoError(t, err, "line %q", line)
		recs[i] = rec
	}

	assert.Equal(t, Record{Kind: KindAddUser, Id: user, Text: `quo"ted name`, CreatedAt: now}, recs[0])
	assert.Equal(t, Record{Kind: KindAddConversation, Id: convo, Subject: user,
		Text: "a longer title", CreatedAt: now}, recs[1])
	assert.Equal(t, Record{Kind: KindAddConvoCreator, Id: convo, Subject: user}, recs[2])
	assert.Equal(t, Record{Kind: KindAddMessage, Id: msgId, Subject: user, Convo: convo,
		Text: "hi there", CreatedAt: now}, recs[3])
	assert.Equal(t, Record{Kind: KindRemoveConvoMemberToggle, Id: convo, Subject: user}, recs[4])
	assert.Equal(t, Record{Kind: KindRemoveConvoOwner, Id: convo, Subject: user}, recs[5])
}

func TestParseRejectsMalformed(t *testing.T) {
	valid := "ADD-CONVO-MEMBER " + mustUid(t, 1).String() + " " + mustUid(t, 2).String()
	_, err := Parse(valid)
	require.NoError(t, err)

	for _, line := range []string{
		"",
		"FROB-USER abc def",
		"ADD-CONVO-MEMBER onlyoneid",
		"ADD-CONVO-MEMBER not-a-uid also-not-a-uid",
		valid + " trailing-garbage",
		`ADD-USER ` + mustUid(t, 1).String() + ` "unterminated 123`,
	} {
		_, err := Parse(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestReplay(t *testing.T) {
	path := tempJournal(t)
	l := Open(path)
	l.UserAdded(&types.User{Id: mustUid(t, 1), Name: "alice", CreatedAt: types.TimeNow()})
	l.UserInterestToggled(mustUid(t, 1), mustUid(t, 2), true)
	l.ConversationInterestToggled(mustUid(t, 1), mustUid(t, 3), true)
	l.ConversationInterestToggled(mustUid(t, 1), mustUid(t, 3), false)
	require.NoError(t, l.Flush())

	var kinds []int
	err := Replay(path, func(rec Record) error {
		kinds = append(kinds, rec.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{KindAddUser, KindAddInterestUser,
		KindAddInterestConversation, KindRemoveInterestConversation}, kinds)
}

func TestReplayMissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "no-such.log"), func(Record) error {
		t.Fatal("apply called for a missing journal")
		return nil
	})
	assert.NoError(t, err)
}

func TestReplayCorruptLine(t *testing.T) {
	path := tempJournal(t)
	require.NoError(t, os.WriteFile(path, []byte("GIBBERISH\n"), 0644))
	err := Replay(path, func(Record) error { return nil })
	assert.Error(t, err)
}
