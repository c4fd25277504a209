package types

import "testing"

func TestAccessModeGrantCascades(t *testing.T) {
	var m AccessMode

	m = m.GrantOwner()
	if !m.IsOwner() || !m.IsMember() {
		t.Errorf("GrantOwner should imply member, got %s", m)
	}

	m = ModeNone.GrantCreator()
	if !m.IsCreator() || !m.IsOwner() || !m.IsMember() {
		t.Errorf("GrantCreator should imply owner and member, got %s", m)
	}

	m = ModeNone.GrantMember()
	if !m.IsMember() || m.IsOwner() || m.IsCreator() {
		t.Errorf("GrantMember should set member only, got %s", m)
	}
}

func TestAccessModeRevokeCascades(t *testing.T) {
	full := ModeNone.GrantCreator()

	m := full.RevokeMember()
	if m.IsMember() || m.IsOwner() || m.IsCreator() {
		t.Errorf("RevokeMember should clear owner and creator too, got %s", m)
	}

	m = full.RevokeOwner()
	if m.IsOwner() || m.IsCreator() {
		t.Errorf("RevokeOwner should clear creator too, got %s", m)
	}
	if !m.IsMember() {
		t.Errorf("RevokeOwner should keep member, got %s", m)
	}

	m = full.RevokeCreator()
	if m.IsCreator() {
		t.Errorf("RevokeCreator should clear creator, got %s", m)
	}
	if !m.IsOwner() || !m.IsMember() {
		t.Errorf("RevokeCreator should keep owner and member, got %s", m)
	}
}

func TestAccessModeIdempotent(t *testing.T) {
	m := ModeNone.GrantOwner()
	if m.GrantOwner() != m {
		t.Error("GrantOwner should be idempotent")
	}
	if m.RevokeCreator() != m {
		t.Error("Revoking an unset bit should be a no-op")
	}
	n := m.RevokeMember()
	if n.RevokeMember() != n {
		t.Error("RevokeMember should be idempotent")
	}
}

func TestAccessModeRemovedMonotonic(t *testing.T) {
	m := ModeNone.GrantCreator().SetRemoved()
	if !m.HasBeenRemoved() {
		t.Fatal("SetRemoved did not set the flag")
	}

	// No transition in scope clears REMOVED.
	for _, next := range []AccessMode{
		m.GrantMember(), m.RevokeMember(),
		m.GrantOwner(), m.RevokeOwner(),
		m.GrantCreator(), m.RevokeCreator(),
		m.SetRemoved(),
	} {
		if !next.HasBeenRemoved() {
			t.Errorf("Transition cleared the removed flag: %s -> %s", m, next)
		}
	}
}

func TestAccessModeText(t *testing.T) {
	tests := []struct {
		mode AccessMode
		text string
	}{
		{ModeNone, "N"},
		{ModeMember, "M"},
		{ModeMember | ModeOwner, "MO"},
		{ModeMember | ModeOwner | ModeCreator, "MOC"},
		{ModeMember | ModeRemoved, "MR"},
		{ModeRemoved, "R"},
	}

	for _, tc := range tests {
		if got := tc.mode.String(); got != tc.text {
			t.Errorf("String(%d) = %q, want %q", tc.mode, got, tc.text)
		}

		var back AccessMode
		if err := back.UnmarshalText([]byte(tc.text)); err != nil {
			t.Errorf("UnmarshalText(%q) failed: %v", tc.text, err)
		} else if back != tc.mode {
			t.Errorf("UnmarshalText(%q) = %s, want %s", tc.text, back, tc.mode)
		}
	}

	var m AccessMode
	if err := m.UnmarshalText([]byte("MX")); err == nil {
		t.Error("Expected error for invalid mode character")
	}
}

func TestAccessModeAdmin(t *testing.T) {
	if ModeNone.IsAdmin() || ModeMember.IsAdmin() {
		t.Error("Member alone should not be admin")
	}
	if !ModeNone.GrantOwner().IsAdmin() || !ModeNone.GrantCreator().IsAdmin() {
		t.Error("Owner and creator should be admin")
	}
}
