/******************************************************************************
 *
 *  Description :
 *
 *    Journal replay: parses previously written journal lines back into
 *    typed records. At startup only the interest records are reapplied;
 *    the rest are parsed and validated but otherwise ignored.
 *
 *****************************************************************************/

package txlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parley-im/parley/server/store/types"
)

// Record kinds, one per journal verb.
const (
	KindAddUser = iota
	KindAddConversation
	KindAddConvoCreator
	KindAddMessage
	KindAddConvoMember
	KindRemoveConvoMember
	KindRemoveConvoMemberToggle
	KindAddConvoOwner
	KindRemoveConvoOwner
	KindAddInterestUser
	KindRemoveInterestUser
	KindAddInterestConversation
	KindRemoveInterestConversation
)

// Record is one parsed journal line. Which fields are meaningful
// depends on Kind; unused fields are zero.
type Record struct {
	Kind int

	// Primary entity id: user, conversation or message depending on Kind.
	Id types.Uid
	// Secondary id: conversation owner, toggle target, message author,
	// or followed entity.
	Subject types.Uid
	// Containing conversation for message records.
	Convo types.Uid

	// Quoted free text: user name, conversation title or message body.
	Text string

	CreatedAt time.Time
}

var errMalformed = errors.New("txlog: malformed record")

// next consumes one space-separated token from s. Quoted tokens keep
// embedded spaces.
func next(s string) (token, rest string, err error) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return "", "", errMalformed
	}
	if s[0] == '"' {
		prefix, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", errMalformed
		}
		token, err = strconv.Unquote(prefix)
		if err != nil {
			return "", "", errMalformed
		}
		return token, s[len(prefix):], nil
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:], nil
	}
	return s, "", nil
}

func nextUid(s string) (types.Uid, string, error) {
	token, rest, err := next(s)
	if err != nil {
		return types.ZeroUid, "", err
	}
	uid := types.ParseUid(token)
	if uid.IsZero() {
		return types.ZeroUid, "", errMalformed
	}
	return uid, rest, nil
}

func nextTime(s string) (time.Time, string, error) {
	token, rest, err := next(s)
	if err != nil {
		return time.Time{}, "", err
	}
	millis, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return time.Time{}, "", errMalformed
	}
	return time.UnixMilli(millis).UTC(), rest, nil
}

var verbs = map[string]int{
	"ADD-USER":                     KindAddUser,
	"ADD-CONVERSATION":             KindAddConversation,
	"ADD-CONVO-CREATOR":            KindAddConvoCreator,
	"ADD-MESSAGE":                  KindAddMessage,
	"ADD-CONVO-MEMBER":             KindAddConvoMember,
	"REMOVE-CONVO-MEMBER":          KindRemoveConvoMember,
	"REMOVE-CONVO-MEMBER-TOGGLE":   KindRemoveConvoMemberToggle,
	"ADD-CONVO-OWNER":              KindAddConvoOwner,
	"REMOVE-CONVO-OWNER":           KindRemoveConvoOwner,
	"ADD-INTEREST-USER":            KindAddInterestUser,
	"REMOVE-INTEREST-USER":         KindRemoveInterestUser,
	"ADD-INTEREST-CONVERSATION":    KindAddInterestConversation,
	"REMOVE-INTEREST-CONVERSATION": KindRemoveInterestConversation,
}

// Parse converts a single journal line into a Record.
func Parse(line string) (Record, error) {
	verb, rest, err := next(line)
	if err != nil {
		return Record{}, err
	}
	kind, ok := verbs[verb]
	if !ok {
		return Record{}, fmt.Errorf("txlog: unknown verb %q", verb)
	}
	rec := Record{Kind: kind}

	switch kind {
	case KindAddUser:
		if rec.Id, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Text, rest, err = next(rest); err != nil {
			return Record{}, err
		}
		if rec.CreatedAt, rest, err = nextTime(rest); err != nil {
			return Record{}, err
		}

	case KindAddConversation:
		if rec.Id, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Subject, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Text, rest, err = next(rest); err != nil {
			return Record{}, err
		}
		if rec.CreatedAt, rest, err = nextTime(rest); err != nil {
			return Record{}, err
		}

	case KindAddMessage:
		if rec.Id, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Subject, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Convo, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Text, rest, err = next(rest); err != nil {
			return Record{}, err
		}
		if rec.CreatedAt, rest, err = nextTime(rest); err != nil {
			return Record{}, err
		}

	default:
		// All toggle and interest verbs carry exactly two ids.
		if rec.Id, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
		if rec.Subject, rest, err = nextUid(rest); err != nil {
			return Record{}, err
		}
	}

	if strings.TrimLeft(rest, " ") != "" {
		return Record{}, errMalformed
	}
	return rec, nil
}

// Replay reads the journal file and calls apply for each parsed record
// in order. A missing file is not an error: there is simply nothing to
// replay. A malformed line aborts the replay so a corrupt journal is
// noticed rather than silently skipped.
func Replay(path string, apply func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			return fmt.Errorf("%w (line %d)", err, lineno)
		}
		if err = apply(rec); err != nil {
			return fmt.Errorf("txlog: replay failed at line %d: %w", lineno, err)
		}
	}
	return scanner.Err()
}
