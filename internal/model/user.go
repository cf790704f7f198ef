package model

import "time"

// User 表示系统用户。
type User struct {
	ID          uint      `gorm:"primaryKey"`                            // 用户 ID
	Username    string    `gorm:"type:varchar(50);uniqueIndex;not null"` // 用户名（唯一）
	Password    string    `gorm:"type:varchar(100);not null"`            // bcrypt 哈希
	NickName    string    `gorm:"type:varchar(50)"`                      // 昵称
	Email       string    `gorm:"type:varchar(50)"`                      // 邮箱
	HeadPic     string    `gorm:"type:varchar(100)"`                     // 头像
	PhoneNumber string    `gorm:"type:varchar(20)"`                      // 手机号
	IsFrozen    bool      `gorm:"default:false"`                         // 是否冻结
	IsAdmin     bool      `gorm:"default:false"`                         // 是否是管理员
	CreateTime  time.Time `gorm:"autoCreateTime"`                        // 创建时间
	UpdateTime  time.Time `gorm:"autoUpdateTime"`                        // 更新时间

	Roles []Role `gorm:"many2many:user_roles"` // 用户拥有的角色
}

// Role 表示角色，角色与权限是多对多关系。
type Role struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"type:varchar(20);not null"` // 角色名

	Permissions []Permission `gorm:"many2many:role_permissions"` // 角色携带的权限
}

// Permission 表示一个权限点。
//
// Code 是鉴权时比较的唯一键，也会被完整地放进访问令牌的 payload，
// 因此这里直接声明 JSON 标签。
type Permission struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Code        string `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"` // 权限代码（唯一）
	Description string `gorm:"type:varchar(100)" json:"description"`              // 权限描述
}
