package model

// FlattenPermissions 将多个角色携带的权限展平为一个列表，按权限 code 去重。
//
// 去重保留首次出现的顺序：先按角色顺序，再按角色内权限顺序。
// 登录、刷新令牌、查询用户信息都依赖这同一个实现。
func FlattenPermissions(roles []Role) []Permission {
	seen := make(map[string]struct{})
	permissions := []Permission{} // 保证 JSON 序列化为 [] 而不是 null
	for _, role := range roles {
		for _, p := range role.Permissions {
			if _, ok := seen[p.Code]; ok {
				continue
			}
			seen[p.Code] = struct{}{}
			permissions = append(permissions, p)
		}
	}
	return permissions
}

// RoleNames 提取角色名列表，顺序与入参一致。
func RoleNames(roles []Role) []string {
	names := []string{}
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}
