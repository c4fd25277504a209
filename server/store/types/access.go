package types

import "errors"

// AccessMode is the per-(conversation, user) access bitmask. The four
// flags are disjoint single bits; grants and revokes cascade so that
// OWNER always implies MEMBER and CREATOR always implies OWNER and
// MEMBER.
type AccessMode uint32

const (
	// ModeMember - user currently belongs to the conversation (M:1).
	ModeMember AccessMode = 1 << iota
	// ModeOwner - user administers the conversation (O:2).
	ModeOwner
	// ModeCreator - user created the conversation (C:4).
	ModeCreator
	// ModeRemoved - user was removed at least once; never cleared (R:8).
	ModeRemoved

	// ModeNone - no access, the reading of a missing map entry (N).
	ModeNone AccessMode = 0
)

// GrantMember sets MEMBER.
func (m AccessMode) GrantMember() AccessMode {
	return m | ModeMember
}

// RevokeMember clears MEMBER and everything built on it: losing
// membership also loses OWNER and CREATOR.
func (m AccessMode) RevokeMember() AccessMode {
	return m &^ (ModeMember | ModeOwner | ModeCreator)
}

// GrantOwner sets OWNER and, by cascade, MEMBER.
func (m AccessMode) GrantOwner() AccessMode {
	return m | ModeOwner | ModeMember
}

// RevokeOwner clears OWNER and CREATOR but leaves MEMBER.
func (m AccessMode) RevokeOwner() AccessMode {
	return m &^ (ModeOwner | ModeCreator)
}

// GrantCreator sets CREATOR and, by cascade, OWNER and MEMBER.
func (m AccessMode) GrantCreator() AccessMode {
	return m | ModeCreator | ModeOwner | ModeMember
}

// RevokeCreator clears CREATOR only.
func (m AccessMode) RevokeCreator() AccessMode {
	return m &^ ModeCreator
}

// SetRemoved sets the monotonic REMOVED flag. No operation clears it.
func (m AccessMode) SetRemoved() AccessMode {
	return m | ModeRemoved
}

// IsMember checks if the MEMBER bit is set.
func (m AccessMode) IsMember() bool {
	return m&ModeMember != 0
}

// IsOwner checks if the OWNER bit is set.
func (m AccessMode) IsOwner() bool {
	return m&ModeOwner != 0
}

// IsCreator checks if the CREATOR bit is set.
func (m AccessMode) IsCreator() bool {
	return m&ModeCreator != 0
}

// HasBeenRemoved checks if the REMOVED bit is set.
func (m AccessMode) HasBeenRemoved() bool {
	return m&ModeRemoved != 0
}

// IsAdmin checks for either of the bits which allow managing other
// users' access.
func (m AccessMode) IsAdmin() bool {
	return m.IsOwner() || m.IsCreator()
}

// IsNone checks if no bit is set.
func (m AccessMode) IsNone() bool {
	return m == ModeNone
}

func (m AccessMode) MarshalText() ([]byte, error) {
	if m == 0 {
		return []byte{'N'}, nil
	}

	var res []byte
	var modes = []byte{'M', 'O', 'C', 'R'}
	for i, chr := range modes {
		if m&(1<<uint(i)) != 0 {
			res = append(res, chr)
		}
	}
	return res, nil
}

// UnmarshalText parses a mode string. "N" clears all bits.
func (m *AccessMode) UnmarshalText(b []byte) error {
	var m0 AccessMode

	for i := 0; i < len(b); i++ {
		switch b[i] {
		case 'M', 'm':
			m0 |= ModeMember
		case 'O', 'o':
			m0 |= ModeOwner
		case 'C', 'c':
			m0 |= ModeCreator
		case 'R', 'r':
			m0 |= ModeRemoved
		case 'N', 'n':
			m0 = 0
		default:
			return errors.New("AccessMode: invalid character '" + string(b[i]) + "'")
		}
	}

	*m = m0
	return nil
}

func (m AccessMode) String() string {
	res, err := m.MarshalText()
	if err != nil {
		return ""
	}
	return string(res)
}
