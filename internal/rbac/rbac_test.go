package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionWrite, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionApprove, true},
		{RoleEditor, ActionAdmin, false},
		{RoleAgent, ActionWrite, true},
		{RoleAgent, ActionApprove, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Fatal("expected editor to normalize to itself")
	}
	if Normalize("superuser") != RoleViewer {
		t.Fatal("expected unknown role to normalize to viewer")
	}
}
