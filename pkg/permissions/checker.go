// Package permissions checks role grants against required permissions with
// support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "inventory.*")
//   - "resource.action" - Specific action (e.g., "inventory.read")
package permissions

import (
	"strings"
)

// Pharmacy permissions.
const (
	DrugsRead      = "drugs.read"
	DrugsManage    = "drugs.manage"
	DrugsLifecycle = "drugs.lifecycle"

	InventoryRead   = "inventory.read"
	InventoryAdjust = "inventory.adjust"

	RequestsRead       = "requests.read"
	RequestsCreate     = "requests.create"
	RequestsPreapprove = "requests.preapprove"
	RequestsApprove    = "requests.approve"
	RequestsReceive    = "requests.receive"
	RequestsReject     = "requests.reject"
	RequestsCancel     = "requests.cancel"

	PrescriptionsRead     = "prescriptions.read"
	PrescriptionsManage   = "prescriptions.manage"
	PrescriptionsDispense = "prescriptions.dispense"

	AlertsRead   = "alerts.read"
	AlertsManage = "alerts.manage"
	AuditRead    = "audit.read"
	JobsRun      = "jobs.run"
)

// RolePermissions grants permissions to the portal roles.
var RolePermissions = map[string][]string{
	"super_admin": {"*"},
	"hospital_admin": {
		"drugs.*", "inventory.*", "requests.*", "prescriptions.read",
		"alerts.*", AuditRead, JobsRun,
	},
	"department_admin": {
		DrugsRead, InventoryRead, RequestsRead, RequestsCreate, RequestsPreapprove,
		RequestsCancel, PrescriptionsRead, AlertsRead,
	},
	"store_keeper": {
		DrugsRead, "inventory.*", RequestsRead, RequestsCreate, RequestsApprove,
		RequestsReceive, RequestsReject, RequestsCancel, "alerts.*",
	},
	"pharmacist": {
		DrugsRead, InventoryRead, InventoryAdjust, RequestsRead, RequestsCreate,
		RequestsReceive, RequestsCancel, PrescriptionsRead, PrescriptionsDispense, AlertsRead,
	},
	"doctor": {
		DrugsRead, InventoryRead, PrescriptionsRead, PrescriptionsManage,
	},
	"supplier": {
		DrugsRead, RequestsRead, RequestsApprove, RequestsReject,
	},
	"data_entry": {
		DrugsRead, DrugsManage, InventoryRead, InventoryAdjust,
	},
	"patient": {
		DrugsRead,
	},
}

// ForRole returns the grants of a role, nil for unknown roles.
func ForRole(role string) []string {
	return RolePermissions[role]
}

// RoleHas reports whether role is granted the required permission.
func RoleHas(role, required string) bool {
	return HasPermission(ForRole(role), required)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "inventory.*" matches "inventory.read", "inventory.adjust", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}

	for _, p := range userPerms {
		if p == "*" {
			return true // Full admin access
		}
		if p == required {
			return true // Exact match
		}
		// Check wildcard patterns like "inventory.*"
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// HasAllPermissions checks if the user has all of the required permissions.
func HasAllPermissions(userPerms []string, required []string) bool {
	for _, req := range required {
		if !HasPermission(userPerms, req) {
			return false
		}
	}
	return true
}
