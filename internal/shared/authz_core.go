package shared

// Engine management permissions. Business permissions (harvest, gate check,
// master data) are registered at runtime through the catalog; only the codes
// that gate this service's own admin surface are fixed.
const (
	PermRBACView   = "rbac:view"
	PermRBACManage = "rbac:manage"

	PermUsersView   = "users:view"
	PermUsersManage = "users:manage"

	PermAuditView = "audit:view"
)

// CorePermissions lists the codes gating this service's own admin surface.
// The catalog refuses to delete or deactivate them; losing one would lock
// every administrator out of the management API.
func CorePermissions() []string {
	return []string{
		PermRBACView,
		PermRBACManage,
		PermUsersView,
		PermUsersManage,
		PermAuditView,
	}
}

// IsCorePermission reports whether code gates the admin surface itself.
func IsCorePermission(code string) bool {
	for _, c := range CorePermissions() {
		if c == code {
			return true
		}
	}
	return false
}

// ScopeTypes is the closed vocabulary for override and assignment scopes,
// ordered company > estate > division > block.
var ScopeTypes = []string{"company", "estate", "division", "block"}

// ValidScopeType reports whether t names an organizational unit level.
func ValidScopeType(t string) bool {
	for _, s := range ScopeTypes {
		if s == t {
			return true
		}
	}
	return false
}
