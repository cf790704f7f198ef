package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"roombook/internal/model"
	"roombook/internal/pkg/request"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RoomStore 抽象会议室数据访问。
type RoomStore interface {
	// Create 创建会议室。名称冲突时返回 gorm.ErrDuplicatedKey。
	Create(ctx context.Context, room *model.MeetingRoom) error
	// FindByID 按 ID 查找会议室，未找到返回 gorm.ErrRecordNotFound。
	FindByID(ctx context.Context, id uint) (*model.MeetingRoom, error)
	// Save 保存整条会议室记录。名称冲突时返回 gorm.ErrDuplicatedKey。
	Save(ctx context.Context, room *model.MeetingRoom) error
	// Delete 按 ID 删除会议室。
	Delete(ctx context.Context, id uint) error
	// Search 分页查询会议室。
	Search(ctx context.Context, q RoomQuery) ([]model.MeetingRoom, int64, error)
}

// RoomQuery 会议室列表的查询条件。
type RoomQuery struct {
	Name      string
	Location  string
	Equipment string
	Capacity  int
	PageNo    int
	PageSize  int
}

type gormRoomStore struct {
	db *gorm.DB
}

func (s gormRoomStore) Create(ctx context.Context, room *model.MeetingRoom) error {
	return s.db.WithContext(ctx).Create(room).Error
}

func (s gormRoomStore) FindByID(ctx context.Context, id uint) (*model.MeetingRoom, error) {
	var room model.MeetingRoom
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (s gormRoomStore) Save(ctx context.Context, room *model.MeetingRoom) error {
	return s.db.WithContext(ctx).Save(room).Error
}

func (s gormRoomStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&model.MeetingRoom{}, id).Error
}

func (s gormRoomStore) Search(ctx context.Context, q RoomQuery) ([]model.MeetingRoom, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.MeetingRoom{})
	if q.Name != "" {
		tx = tx.Where("name LIKE ?", "%"+q.Name+"%")
	}
	if q.Location != "" {
		tx = tx.Where("location LIKE ?", "%"+q.Location+"%")
	}
	if q.Equipment != "" {
		tx = tx.Where("equipment LIKE ?", "%"+q.Equipment+"%")
	}
	if q.Capacity > 0 {
		tx = tx.Where("capacity >= ?", q.Capacity)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}

	var rooms []model.MeetingRoom
	err := tx.Order("id").
		Offset((q.PageNo - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&rooms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, total, nil
}

// createRoomRequest 创建会议室的请求参数。
type createRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Capacity    int    `json:"capacity" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Equipment   string `json:"equipment"`
	Description string `json:"description"`
}

// updateRoomRequest 更新会议室的请求参数。
type updateRoomRequest struct {
	ID          uint   `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Capacity    int    `json:"capacity" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Equipment   string `json:"equipment"`
	Description string `json:"description"`
}

// roomResponse 会议室的对外表示。
type roomResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Location    string `json:"location"`
	Equipment   string `json:"equipment"`
	Description string `json:"description"`
	IsBooked    bool   `json:"isBooked"`
	CreateTime  int64  `json:"createTime"`
	UpdateTime  int64  `json:"updateTime"`
}

func roomResponseOf(room *model.MeetingRoom) roomResponse {
	return roomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Capacity:    room.Capacity,
		Location:    room.Location,
		Equipment:   room.Equipment,
		Description: room.Description,
		IsBooked:    room.IsBooked,
		CreateTime:  room.CreateTime.UnixMilli(),
		UpdateTime:  room.UpdateTime.UnixMilli(),
	}
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := model.MeetingRoom{
		Name:        req.Name,
		Capacity:    req.Capacity,
		Location:    req.Location,
		Equipment:   req.Equipment,
		Description: req.Description,
	}
	if err := s.rooms.Create(c.Request.Context(), &room); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "会议室名称已存在"})
			return
		}
		s.logger.Error("create room failed", slog.String("name", req.Name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create room failed"})
		return
	}

	s.logger.Info("room created", slog.Uint64("room_id", uint64(room.ID)), slog.String("name", room.Name))
	c.JSON(http.StatusOK, gin.H{"message": "创建成功", "id": room.ID})
}

func (s *Server) handleUpdateRoom(c *gin.Context) {
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := s.rooms.FindByID(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会议室不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query room failed"})
		return
	}

	room.Name = req.Name
	room.Capacity = req.Capacity
	room.Location = req.Location
	room.Equipment = req.Equipment
	room.Description = req.Description
	if err := s.rooms.Save(c.Request.Context(), room); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "会议室名称不能重复"})
			return
		}
		s.logger.Error("update room failed", slog.Uint64("room_id", uint64(req.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update room failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "修改成功"})
}

func (s *Server) handleDeleteRoom(c *gin.Context) {
	id, ok := request.ID(c)
	if !ok {
		return
	}

	if err := s.rooms.Delete(c.Request.Context(), id); err != nil {
		s.logger.Error("delete room failed", slog.Uint64("room_id", uint64(id)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete room failed"})
		return
	}

	s.logger.Info("room deleted", slog.Uint64("room_id", uint64(id)))
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

func (s *Server) handleListRooms(c *gin.Context) {
	pageNo, ok := request.Int(c, "pageNo", 1)
	if !ok {
		return
	}
	pageSize, ok := request.Int(c, "pageSize", 2)
	if !ok {
		return
	}
	if pageNo < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "页码最小为1"})
		return
	}
	if pageSize < 1 {
		pageSize = 2
	}

	capacity, ok := request.Int(c, "capacity", 0)
	if !ok {
		return
	}

	q := RoomQuery{
		Name:      c.Query("name"),
		Location:  c.Query("location"),
		Equipment: c.Query("equipment"),
		Capacity:  capacity,
		PageNo:    pageNo,
		PageSize:  pageSize,
	}
	rooms, total, err := s.rooms.Search(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("search rooms failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query rooms failed"})
		return
	}

	list := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		list = append(list, roomResponseOf(&rooms[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"list":       list,
		"totalCount": total,
	})
}

func (s *Server) handleFindRoom(c *gin.Context) {
	id, ok := request.ID(c)
	if !ok {
		return
	}

	room, err := s.rooms.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会议室不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query room failed"})
		return
	}

	c.JSON(http.StatusOK, roomResponseOf(room))
}
