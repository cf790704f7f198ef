package api

import (
	"context"
	"time"

	"roombook/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化演示数据：权限、角色、两个演示账号和三间会议室。
//
// 可以重复执行，已存在的记录不会重复创建。
func (s *Server) SeedDemoData(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	ccc := model.Permission{Code: "ccc"}
	if err := db.Where(&model.Permission{Code: "ccc"}).
		Attrs(model.Permission{Description: "访问 ccc 接口"}).
		FirstOrCreate(&ccc).Error; err != nil {
		return err
	}
	ddd := model.Permission{Code: "ddd"}
	if err := db.Where(&model.Permission{Code: "ddd"}).
		Attrs(model.Permission{Description: "访问 ddd 接口"}).
		FirstOrCreate(&ddd).Error; err != nil {
		return err
	}

	adminRole := model.Role{Name: "管理员"}
	if err := db.Where(&model.Role{Name: "管理员"}).FirstOrCreate(&adminRole).Error; err != nil {
		return err
	}
	if err := db.Model(&adminRole).Association("Permissions").Replace([]model.Permission{ccc, ddd}); err != nil {
		return err
	}

	userRole := model.Role{Name: "普通用户"}
	if err := db.Where(&model.Role{Name: "普通用户"}).FirstOrCreate(&userRole).Error; err != nil {
		return err
	}
	if err := db.Model(&userRole).Association("Permissions").Replace([]model.Permission{ccc}); err != nil {
		return err
	}

	if err := s.seedUser(ctx, model.User{
		Username:    "zhangsan",
		NickName:    "张三",
		Email:       "zhangsan@xx.com",
		PhoneNumber: "13212341234",
		IsAdmin:     true,
	}, "111111", adminRole); err != nil {
		return err
	}
	if err := s.seedUser(ctx, model.User{
		Username: "lisi",
		NickName: "李四",
		Email:    "lisi@yy.com",
	}, "123456", userRole); err != nil {
		return err
	}

	rooms := []model.MeetingRoom{
		{Name: "木星", Capacity: 10, Location: "一层西", Equipment: "白板"},
		{Name: "金星", Capacity: 5, Location: "二层东"},
		{Name: "天王星", Capacity: 30, Location: "三层东", Equipment: "白板，电视"},
	}
	for i := range rooms {
		if err := db.Where(&model.MeetingRoom{Name: rooms[i].Name}).
			Attrs(rooms[i]).
			FirstOrCreate(&rooms[i]).Error; err != nil {
			return err
		}
	}

	return s.seedBookings(ctx, rooms)
}

// seedUser 创建演示账号并绑定角色，已存在时跳过。
func (s *Server) seedUser(ctx context.Context, user model.User, password string, role model.Role) error {
	db := s.db.WithContext(ctx)

	var existing model.User
	err := db.Where("username = ?", user.Username).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hash)
	if err := db.Create(&user).Error; err != nil {
		return err
	}
	return db.Model(&user).Association("Roles").Replace([]model.Role{role})
}

// seedBookings 给前两间会议室各放一条演示预订记录。
func (s *Server) seedBookings(ctx context.Context, rooms []model.MeetingRoom) error {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&model.Booking{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 || len(rooms) < 2 {
		return nil
	}

	var zhangsan, lisi model.User
	if err := db.Where("username = ?", "zhangsan").First(&zhangsan).Error; err != nil {
		return err
	}
	if err := db.Where("username = ?", "lisi").First(&lisi).Error; err != nil {
		return err
	}

	now := time.Now()
	bookings := []model.Booking{
		{
			UserID:    zhangsan.ID,
			RoomID:    rooms[0].ID,
			StartTime: now.Add(time.Hour),
			EndTime:   now.Add(2 * time.Hour),
			Status:    "申请中",
		},
		{
			UserID:    lisi.ID,
			RoomID:    rooms[1].ID,
			StartTime: now.Add(3 * time.Hour),
			EndTime:   now.Add(4 * time.Hour),
			Status:    "审批通过",
		},
	}
	return db.Create(&bookings).Error
}
