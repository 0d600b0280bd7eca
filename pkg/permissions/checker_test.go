package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"empty requirement", nil, "", true},
		{"full access", []string{"*"}, RequestsApprove, true},
		{"exact match", []string{InventoryRead}, InventoryRead, true},
		{"resource wildcard", []string{"inventory.*"}, InventoryAdjust, true},
		{"wildcard does not cross resources", []string{"inventory.*"}, DrugsRead, false},
		{"wildcard needs dot boundary", []string{"drugs.*"}, "drugsx.read", false},
		{"missing", []string{DrugsRead}, DrugsManage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.perms, tt.required))
		})
	}
}

func TestRoleHas(t *testing.T) {
	assert.True(t, RoleHas("super_admin", JobsRun))
	assert.True(t, RoleHas("store_keeper", RequestsApprove))
	assert.True(t, RoleHas("department_admin", RequestsPreapprove))
	assert.False(t, RoleHas("department_admin", RequestsApprove))
	assert.True(t, RoleHas("pharmacist", PrescriptionsDispense))
	assert.False(t, RoleHas("doctor", PrescriptionsDispense))
	assert.False(t, RoleHas("patient", InventoryRead))
	assert.False(t, RoleHas("unknown", DrugsRead))
}

func TestHasAnyAndAll(t *testing.T) {
	perms := []string{DrugsRead, "alerts.*"}
	assert.True(t, HasAnyPermission(perms, []string{DrugsManage, AlertsManage}))
	assert.False(t, HasAnyPermission(perms, []string{DrugsManage, JobsRun}))
	assert.True(t, HasAllPermissions(perms, []string{DrugsRead, AlertsRead}))
	assert.False(t, HasAllPermissions(perms, []string{DrugsRead, AuditRead}))
}
