package catalog

import "testing"

func TestParsePermissionCode(t *testing.T) {
	cases := []struct {
		in       string
		resource string
		action   string
		wantErr  bool
	}{
		{in: "harvest:create", resource: "harvest", action: "create"},
		{in: "RBAC:Manage", resource: "rbac", action: "manage"},
		{in: "field_ops.weighbridge:read", resource: "field_ops.weighbridge", action: "read"},
		{in: "harvest", wantErr: true},
		{in: "harvest:", wantErr: true},
		{in: ":create", wantErr: true},
		{in: "harvest:create:extra", wantErr: true},
		{in: "harvest create:read", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		code, err := ParsePermissionCode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParsePermissionCode(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePermissionCode(%q): %v", tc.in, err)
		}
		if code.Resource != tc.resource || code.Action != tc.action {
			t.Fatalf("ParsePermissionCode(%q) = %s:%s", tc.in, code.Resource, code.Action)
		}
	}
}
