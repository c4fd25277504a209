/******************************************************************************
 *
 *  Description :
 *
 *    Append-only transaction journal. Mutations are recorded as formatted
 *    text lines in an in-memory queue; a background loop periodically
 *    drains the queue to the journal file. Enqueueing never blocks the
 *    request path and a broken journal file never takes the server down.
 *
 *****************************************************************************/

package txlog

import (
	"bufio"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/parley-im/parley/server/logs"
	"github.com/parley-im/parley/server/store/types"
)

// Log is a concurrent queue of pending journal lines bound to a file.
// All Append* methods are safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	pending []string

	path string
	// Write failures are reported once, then the journal goes quiet.
	failed bool

	stop chan struct{}
	done chan struct{}
}

// Open creates a journal bound to the given file. The file itself is
// opened lazily at flush time so a missing directory or bad permission
// does not prevent the server from starting.
func Open(path string) *Log {
	return &Log{
		path: path,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// enqueue adds one formatted line to the pending queue.
func (l *Log) enqueue(line string) {
	l.mu.Lock()
	l.pending = append(l.pending, line)
	l.mu.Unlock()
}

// Path returns the journal file location.
func (l *Log) Path() string {
	return l.path
}

// Pending reports the number of lines waiting to be flushed.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush drains the queue to the journal file. The queue is cleared even
// when the write fails: journal durability is best effort and committed
// in-memory state stands regardless.
func (l *Log) Flush() error {
	l.mu.Lock()
	lines := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(lines) == 0 {
		return nil
	}

	err := appendLines(l.path, lines)
	if err != nil && !l.failed {
		l.failed = true
		logs.Err.Println("txlog: journal write failed, continuing without persistence:", err)
	}
	return err
}

func appendLines(path string, lines []string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err = w.WriteString(line); err != nil {
			break
		}
		if err = w.WriteByte('\n'); err != nil {
			break
		}
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run flushes the queue on the given interval until Stop is called,
// then performs one final drain.
func (l *Log) Run(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-l.stop:
			l.Flush()
			return
		}
	}
}

// Stop terminates the flush loop and waits for the final drain.
func (l *Log) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// UserAdded records a new user.
func (l *Log) UserAdded(u *types.User) {
	l.enqueue("ADD-USER " + u.Id.String() + " " + strconv.Quote(u.Name) + " " + ms(u.CreatedAt))
}

// ConversationAdded records a new conversation.
func (l *Log) ConversationAdded(c *types.Conversation) {
	l.enqueue("ADD-CONVERSATION " + c.Id.String() + " " + c.Owner.String() + " " +
		strconv.Quote(c.Title) + " " + ms(c.CreatedAt))
}

// CreatorAdded records the creator bit granted at conversation creation.
// Revoking the creator bit produces no record.
func (l *Log) CreatorAdded(convo, user types.Uid) {
	l.enqueue("ADD-CONVO-CREATOR " + convo.String() + " " + user.String())
}

// MessageAdded records a new message.
func (l *Log) MessageAdded(m *types.Message, convo types.Uid) {
	l.enqueue("ADD-MESSAGE " + m.Id.String() + " " + m.Author.String() + " " +
		convo.String() + " " + strconv.Quote(m.Body) + " " + ms(m.CreatedAt))
}

// MemberToggled records a member bit change.
func (l *Log) MemberToggled(convo, user types.Uid, member bool) {
	if member {
		l.enqueue("ADD-CONVO-MEMBER " + convo.String() + " " + user.String())
	} else {
		l.enqueue("REMOVE-CONVO-MEMBER " + convo.String() + " " + user.String())
	}
}

// MemberRemoved records the removed flag. Emitted once, on the first
// removal; the flag never clears.
func (l *Log) MemberRemoved(convo, user types.Uid) {
	l.enqueue("REMOVE-CONVO-MEMBER-TOGGLE " + convo.String() + " " + user.String())
}

// OwnerToggled records an owner bit change.
func (l *Log) OwnerToggled(convo, user types.Uid, owner bool) {
	if owner {
		l.enqueue("ADD-CONVO-OWNER " + convo.String() + " " + user.String())
	} else {
		l.enqueue("REMOVE-CONVO-OWNER " + convo.String() + " " + user.String())
	}
}

// UserInterestToggled records a follow or unfollow of another user.
func (l *Log) UserInterestToggled(owner, followed types.Uid, added bool) {
	if added {
		l.enqueue("ADD-INTEREST-USER " + owner.String() + " " + followed.String())
	} else {
		l.enqueue("REMOVE-INTEREST-USER " + owner.String() + " " + followed.String())
	}
}

// ConversationInterestToggled records a follow or unfollow of a conversation.
func (l *Log) ConversationInterestToggled(user, convo types.Uid, added bool) {
	if added {
		l.enqueue("ADD-INTEREST-CONVERSATION " + user.String() + " " + convo.String())
	} else {
		l.enqueue("REMOVE-INTEREST-CONVERSATION " + user.String() + " " + convo.String())
	}
}
