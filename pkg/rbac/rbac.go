package rbac

// 权限常量
const (
	PermissionManageProject  = "project:manage"
	PermissionReadSchedule   = "schedule:read"
	PermissionCreateSchedule = "schedule:create"
	PermissionUpdateProgress = "schedule:progress"
	PermissionEditSchedule   = "schedule:edit"
	PermissionManageHoliday  = "holiday:manage"
	PermissionReplayOutbox   = "outbox:replay"
)

// 角色常量
const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
	RoleClient   = "client"
)

// 角色权限映射；客户只读，工程师可以更新进度
var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermissionManageProject,
		PermissionReadSchedule,
		PermissionCreateSchedule,
		PermissionUpdateProgress,
		PermissionEditSchedule,
		PermissionManageHoliday,
		PermissionReplayOutbox,
	},
	RoleEngineer: {
		PermissionReadSchedule,
		PermissionUpdateProgress,
	},
	RoleClient: {
		PermissionReadSchedule,
	},
}

// IsKnownRole 角色是否在权限表中
func IsKnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "role " + e.Role + " lacks permission " + e.Permission
}
