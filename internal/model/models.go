package model

import "time"

// MeetingRoom 表示一间会议室。
type MeetingRoom struct {
	ID          uint      `gorm:"primaryKey"` // 会议室 ID
	Name        string    `gorm:"type:varchar(50);uniqueIndex;not null"` // 名称（唯一）
	Capacity    int       `gorm:"not null"`                              // 容纳人数
	Location    string    `gorm:"type:varchar(50);not null"`             // 位置
	Equipment   string    `gorm:"type:varchar(50)"`                      // 设备
	Description string    `gorm:"type:varchar(100)"`                     // 描述
	IsBooked    bool      `gorm:"default:false"`                         // 是否被预订
	CreateTime  time.Time `gorm:"autoCreateTime"`                        // 创建时间
	UpdateTime  time.Time `gorm:"autoUpdateTime"`                        // 更新时间
}

// Booking 表示一条会议室预订记录。
//
// 预订与用户、会议室均为多对一关系。
type Booking struct {
	ID         uint      `gorm:"primaryKey"` // 预订 ID
	CreateTime time.Time `gorm:"autoCreateTime"`
	UpdateTime time.Time `gorm:"autoUpdateTime"`

	UserID uint        `gorm:"not null"`          // 预订人 ID
	User   User        `gorm:"foreignKey:UserID"` // 预订人
	RoomID uint        `gorm:"not null"`          // 会议室 ID
	Room   MeetingRoom `gorm:"foreignKey:RoomID"` // 会议室

	StartTime time.Time `gorm:"not null"`          // 会议开始时间
	EndTime   time.Time `gorm:"not null"`          // 会议结束时间
	Status    string    `gorm:"type:varchar(20)"`  // 状态: 申请中 / 审批通过 / 审批驳回 / 已解除
	Note      string    `gorm:"type:varchar(100)"` // 备注
}
