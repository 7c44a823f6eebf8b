package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	assert.True(t, HasPermission(RoleAdmin, PermissionManageHoliday))
	assert.True(t, HasPermission(RoleAdmin, PermissionUpdateProgress))

	assert.True(t, HasPermission(RoleEngineer, PermissionUpdateProgress))
	assert.False(t, HasPermission(RoleEngineer, PermissionCreateSchedule))
	assert.False(t, HasPermission(RoleEngineer, PermissionManageHoliday))

	assert.True(t, HasPermission(RoleClient, PermissionReadSchedule))
	assert.False(t, HasPermission(RoleClient, PermissionUpdateProgress))

	assert.False(t, HasPermission("contractor", PermissionReadSchedule))
	assert.False(t, IsKnownRole("contractor"))
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleEngineer, PermissionReadSchedule))

	err := CheckPermission(RoleClient, PermissionEditSchedule)
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, RoleClient, denied.Role)
	assert.Equal(t, PermissionEditSchedule, denied.Permission)
}
