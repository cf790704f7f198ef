package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"roombook/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BookingStore 抽象预订记录数据访问。
type BookingStore interface {
	// Search 分页查询预订记录，预加载预订人和会议室。
	Search(ctx context.Context, q BookingQuery) ([]model.Booking, int64, error)
}

// BookingQuery 预订列表的查询条件。
//
// 时间范围匹配的是「预订区间与查询区间有重叠」的记录。
type BookingQuery struct {
	Username       string
	RoomName       string
	RoomPosition   string
	TimeRangeStart *time.Time
	TimeRangeEnd   *time.Time
	PageNo         int
	PageSize       int
}

type gormBookingStore struct {
	db *gorm.DB
}

func (s gormBookingStore) Search(ctx context.Context, q BookingQuery) ([]model.Booking, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Booking{}).
		Joins("JOIN users ON users.id = bookings.user_id").
		Joins("JOIN meeting_rooms ON meeting_rooms.id = bookings.room_id")

	if q.Username != "" {
		tx = tx.Where("users.username LIKE ?", "%"+q.Username+"%")
	}
	if q.RoomName != "" {
		tx = tx.Where("meeting_rooms.name LIKE ?", "%"+q.RoomName+"%")
	}
	if q.RoomPosition != "" {
		tx = tx.Where("meeting_rooms.location LIKE ?", "%"+q.RoomPosition+"%")
	}
	if q.TimeRangeStart != nil && q.TimeRangeEnd != nil {
		tx = tx.Where("bookings.start_time <= ? AND bookings.end_time >= ?", *q.TimeRangeEnd, *q.TimeRangeStart)
	} else if q.TimeRangeStart != nil {
		tx = tx.Where("bookings.end_time >= ?", *q.TimeRangeStart)
	} else if q.TimeRangeEnd != nil {
		tx = tx.Where("bookings.start_time <= ?", *q.TimeRangeEnd)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	var bookings []model.Booking
	err := tx.Preload("User").Preload("Room").
		Order("bookings.id DESC").
		Offset((q.PageNo - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&bookings).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, total, nil
}

// listBookingsRequest 预订列表的请求参数，时间以毫秒时间戳传递。
type listBookingsRequest struct {
	PageNo         int    `json:"pageNo"`
	PageSize       int    `json:"pageSize"`
	Username       string `json:"username"`
	RoomName       string `json:"roomName"`
	RoomPosition   string `json:"roomPosition"`
	TimeRangeStart int64  `json:"timeRangeStart"`
	TimeRangeEnd   int64  `json:"timeRangeEnd"`
}

// bookingResponse 预订记录的对外表示。
type bookingResponse struct {
	ID         uint   `json:"id"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	Status     string `json:"status"`
	Note       string `json:"note"`
	CreateTime int64  `json:"createTime"`

	User struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
		NickName string `json:"nickName"`
	} `json:"user"`
	Room struct {
		ID       uint   `json:"id"`
		Name     string `json:"name"`
		Location string `json:"location"`
	} `json:"room"`
}

func bookingResponseOf(b *model.Booking) bookingResponse {
	resp := bookingResponse{
		ID:         b.ID,
		StartTime:  b.StartTime.UnixMilli(),
		EndTime:    b.EndTime.UnixMilli(),
		Status:     b.Status,
		Note:       b.Note,
		CreateTime: b.CreateTime.UnixMilli(),
	}
	resp.User.ID = b.User.ID
	resp.User.Username = b.User.Username
	resp.User.NickName = b.User.NickName
	resp.Room.ID = b.Room.ID
	resp.Room.Name = b.Room.Name
	resp.Room.Location = b.Room.Location
	return resp
}

func (s *Server) handleListBookings(c *gin.Context) {
	var req listBookingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PageNo < 1 {
		req.PageNo = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 10
	}

	q := BookingQuery{
		Username:     req.Username,
		RoomName:     req.RoomName,
		RoomPosition: req.RoomPosition,
		PageNo:       req.PageNo,
		PageSize:     req.PageSize,
	}
	if req.TimeRangeStart > 0 {
		start := time.UnixMilli(req.TimeRangeStart)
		q.TimeRangeStart = &start
	}
	if req.TimeRangeEnd > 0 {
		end := time.UnixMilli(req.TimeRangeEnd)
		q.TimeRangeEnd = &end
	}

	bookings, total, err := s.bookings.Search(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("search bookings failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query bookings failed"})
		return
	}

	list := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		list = append(list, bookingResponseOf(&bookings[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"list":       list,
		"totalCount": total,
	})
}
