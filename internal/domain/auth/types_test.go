package auth

import (
	"testing"
)

func TestRole_Level_Ordering(t *testing.T) {
	if RoleAdmin.Level() <= RoleExpedicao.Level() {
		t.Fatalf("expected ADMIN > EXPEDICAO")
	}
	if RoleExpedicao.Level() <= RoleLeitor.Level() {
		t.Fatalf("expected EXPEDICAO > LEITOR")
	}
	if Role("SUPERVISOR").Level() != 0 {
		t.Fatalf("unknown role must map to level 0")
	}
}

func TestRole_AtLeast(t *testing.T) {
	cases := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleLeitor, true},
		{RoleExpedicao, RoleAdmin, false},
		{RoleLeitor, RoleLeitor, true},
		{RoleLeitor, RoleExpedicao, false},
		{Role(""), RoleLeitor, false},
		{RoleAdmin, Role(""), false}, // unknown requirement satisfies nothing
	}
	for _, tc := range cases {
		if got := tc.role.AtLeast(tc.required); got != tc.want {
			t.Fatalf("AtLeast(%q, %q) = %v, want %v", tc.role, tc.required, got, tc.want)
		}
	}
}

func TestRole_UnmarshalText(t *testing.T) {
	var r Role
	if err := r.UnmarshalText([]byte("expedicao")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != RoleExpedicao {
		t.Fatalf("got %q", r)
	}
	if err := r.UnmarshalText([]byte("root")); err == nil {
		t.Fatalf("expected error for invalid role")
	}
}

func TestStatus_UnmarshalText(t *testing.T) {
	var s Status
	if err := s.UnmarshalText([]byte("ativo")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StatusAtivo {
		t.Fatalf("got %q", s)
	}
	if err := s.UnmarshalText([]byte("banned")); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestProfile_Active(t *testing.T) {
	if !(Profile{Status: StatusAtivo}).Active() {
		t.Fatalf("ATIVO must be active")
	}
	if (Profile{Status: StatusPendente}).Active() {
		t.Fatalf("PENDENTE must not be active")
	}
}
