package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"roombook/internal/api/middleware"
	"roombook/internal/api/token"
	"roombook/internal/model"
	"roombook/internal/pkg/captcha"
	"roombook/internal/pkg/metrics"
	"roombook/internal/pkg/notify"
	"roombook/internal/pkg/queue"
	"roombook/internal/pkg/ratelimit"
	"roombook/internal/pkg/request"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserStore 抽象用户数据访问，便于在测试中替换。
type UserStore interface {
	// FindByUsername 按用户名和管理员标记查找用户，预加载角色与权限。
	// 未找到时返回 gorm.ErrRecordNotFound。
	FindByUsername(ctx context.Context, username string, isAdmin bool) (*model.User, error)
	// FindByID 按 ID 查找用户，预加载角色与权限。
	FindByID(ctx context.Context, id uint) (*model.User, error)
	// Create 创建用户。用户名冲突时返回 gorm.ErrDuplicatedKey。
	Create(ctx context.Context, user *model.User) error
	// UpdatePassword 更新用户的密码哈希。
	UpdatePassword(ctx context.Context, id uint, passwordHash string) error
	// Freeze 冻结用户。
	Freeze(ctx context.Context, id uint) error
	// Search 分页查询用户列表。
	Search(ctx context.Context, q UserQuery) ([]model.User, int64, error)
}

// UserQuery 用户列表的查询条件。
type UserQuery struct {
	Username string
	NickName string
	Email    string
	PageNo   int
	PageSize int
}

type gormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore 创建基于 gorm 的用户存储。
func NewGormUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) FindByUsername(ctx context.Context, username string, isAdmin bool) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Preload("Roles.Permissions").
		Where("username = ? AND is_admin = ?", username, isAdmin).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Preload("Roles.Permissions").
		First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) Create(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *gormUserStore) UpdatePassword(ctx context.Context, id uint, passwordHash string) error {
	return s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("password", passwordHash).Error
}

func (s *gormUserStore) Freeze(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("is_frozen", true).Error
}

func (s *gormUserStore) Search(ctx context.Context, q UserQuery) ([]model.User, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.User{})
	if q.Username != "" {
		tx = tx.Where("username LIKE ?", "%"+q.Username+"%")
	}
	if q.NickName != "" {
		tx = tx.Where("nick_name LIKE ?", "%"+q.NickName+"%")
	}
	if q.Email != "" {
		tx = tx.Where("email LIKE ?", "%"+q.Email+"%")
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []model.User
	err := tx.Order("id").
		Offset((q.PageNo - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// Handler 提供用户注册、登录、令牌刷新等接口。
type Handler struct {
	users   UserStore
	tokens  *token.Manager
	codes   *captcha.Store
	mailer  notify.Mailer
	limiter *ratelimit.Limiter
	mails   *queue.Queue
	logger  *slog.Logger
}

// NewHandler 创建 Auth Handler。limiter、mails、logger 允许为 nil。
func NewHandler(users UserStore, tokens *token.Manager, codes *captcha.Store, mailer notify.Mailer, limiter *ratelimit.Limiter, mails *queue.Queue, logger *slog.Logger) *Handler {
	return &Handler{
		users:   users,
		tokens:  tokens,
		codes:   codes,
		mailer:  mailer,
		limiter: limiter,
		mails:   mails,
		logger:  logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	NickName string `json:"nickName" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"required,email"`
	Captcha  string `json:"captcha" binding:"required"`
}

type updatePasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"required,email"`
	Captcha  string `json:"captcha" binding:"required"`
}

// userVo 登录成功后返回的用户信息。
type userVo struct {
	ID          uint               `json:"id"`
	Username    string             `json:"username"`
	NickName    string             `json:"nickName"`
	Email       string             `json:"email"`
	HeadPic     string             `json:"headPic"`
	PhoneNumber string             `json:"phoneNumber"`
	IsFrozen    bool               `json:"isFrozen"`
	IsAdmin     bool               `json:"isAdmin"`
	CreateTime  int64              `json:"createTime"`
	Roles       []string           `json:"roles"`
	Permissions []model.Permission `json:"permissions"`
}

// userDetailVo 用户列表里的单条记录。
type userDetailVo struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	NickName    string `json:"nickName"`
	Email       string `json:"email"`
	HeadPic     string `json:"headPic"`
	PhoneNumber string `json:"phoneNumber"`
	IsFrozen    bool   `json:"isFrozen"`
	CreateTime  int64  `json:"createTime"`
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}$`)

// Login 普通用户登录。
func (h *Handler) Login(c *gin.Context) {
	h.login(c, false)
}

// AdminLogin 管理员登录。
func (h *Handler) AdminLogin(c *gin.Context) {
	h.login(c, true)
}

func (h *Handler) login(c *gin.Context, isAdmin bool) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), req.Username, isAdmin)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "密码错误"})
		return
	}

	identity := identityOf(user)
	accessToken, refreshToken, err := h.tokens.IssuePair(identity)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("username", user.Username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("username", user.Username), slog.Bool("is_admin", isAdmin))
	}
	c.JSON(http.StatusOK, gin.H{
		"userInfo":     userVoOf(user),
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

// Register 注册新用户，验证码来自 /user/register_captcha。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.checkCaptcha(c, req.Email, req.Captcha) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Username: req.Username,
		NickName: req.NickName,
		Password: string(hash),
		Email:    req.Email,
	}
	if err := h.users.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "用户已存在"})
			return
		}
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("username", req.Username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	// 验证码一次性消费，删除失败不影响注册结果
	if err := h.codes.Del(c.Request.Context(), req.Email); err != nil && h.logger != nil {
		h.logger.Warn("delete captcha failed", slog.String("email", req.Email), slog.String("error", err.Error()))
	}

	if h.logger != nil {
		h.logger.Info("user registered", slog.String("username", req.Username), slog.String("email", req.Email))
	}
	c.JSON(http.StatusOK, gin.H{"message": "注册成功"})
}

// Captcha 发送注册/改密验证码到指定邮箱。
func (h *Handler) Captcha(c *gin.Context) {
	address := c.Query("address")
	if !emailRe.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "错误的邮箱格式"})
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.Request.Context(), address)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
		if !allowed {
			metrics.CaptchaThrottledTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "发送过于频繁，请稍后再试"})
			return
		}
	}

	code, err := generateCode(6)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate code failed"})
		return
	}
	if err := h.codes.Set(c.Request.Context(), address, code); err != nil {
		if h.logger != nil {
			h.logger.Error("save captcha failed", slog.String("email", address), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save captcha failed"})
		return
	}

	h.deliverCode(address, code)
	c.JSON(http.StatusOK, gin.H{"message": "发送成功"})
}

// deliverCode 异步投递验证码邮件；队列不可用时退化为同步发送。
func (h *Handler) deliverCode(address, code string) {
	job := func(ctx context.Context) error {
		if err := h.mailer.SendVerificationCode(address, code); err != nil {
			return fmt.Errorf("send captcha mail to %s: %w", address, err)
		}
		metrics.MailJobsTotal.WithLabelValues("ok").Inc()
		return nil
	}

	if h.mails != nil && h.mails.Enqueue(job) {
		return
	}
	if err := h.mailer.SendVerificationCode(address, code); err != nil {
		metrics.MailJobsTotal.WithLabelValues("error").Inc()
		if h.logger != nil {
			h.logger.Warn("send captcha mail failed", slog.String("email", address), slog.String("error", err.Error()))
		}
		return
	}
	metrics.MailJobsTotal.WithLabelValues("ok").Inc()
}

// UpdatePassword 修改当前用户的密码，需要邮箱验证码。
func (h *Handler) UpdatePassword(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户未登录"})
		return
	}

	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Email != identity.Email {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请输入该用户绑定邮箱"})
		return
	}

	if !h.checkCaptcha(c, req.Email, req.Captcha) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if err := h.users.UpdatePassword(c.Request.Context(), identity.ID, string(hash)); err != nil {
		if h.logger != nil {
			h.logger.Error("update password failed", slog.Uint64("user_id", uint64(identity.ID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}

	if err := h.codes.Del(c.Request.Context(), req.Email); err != nil && h.logger != nil {
		h.logger.Warn("delete captcha failed", slog.String("email", req.Email), slog.String("error", err.Error()))
	}

	if h.logger != nil {
		h.logger.Info("password updated", slog.Uint64("user_id", uint64(identity.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"message": "密码修改成功"})
}

// checkCaptcha 核对邮箱验证码，失败时已写入响应并返回 false。
func (h *Handler) checkCaptcha(c *gin.Context, email, code string) bool {
	stored, err := h.codes.Get(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, captcha.ErrCodeExpired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "验证码已失效"})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query captcha failed"})
		return false
	}
	if stored != code {
		c.JSON(http.StatusBadRequest, gin.H{"error": "验证码不正确"})
		return false
	}
	return true
}

// Info 返回当前用户的详细信息。
func (h *Handler) Info(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户未登录"})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "用户不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	c.JSON(http.StatusOK, userVoOf(user))
}

// Refresh 用刷新令牌换取新的令牌对。
//
// 身份信息从存储重新加载，保证角色和权限变更在刷新后立即生效。
func (h *Handler) Refresh(c *gin.Context) {
	refreshToken := c.Query("refreshToken")

	userID, isAdmin, err := h.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token 已失效，请重新登录"})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil || user.IsAdmin != isAdmin {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token 已失效，请重新登录"})
		return
	}

	accessToken, newRefreshToken, err := h.tokens.IssuePair(identityOf(user))
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": newRefreshToken,
	})
}

// Freeze 冻结指定用户。
func (h *Handler) Freeze(c *gin.Context) {
	id, ok := request.ID(c)
	if !ok {
		return
	}

	if err := h.users.Freeze(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "freeze user failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user frozen", slog.Uint64("user_id", uint64(id)))
	}
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

// List 分页查询用户列表，支持用户名/昵称/邮箱模糊过滤。
func (h *Handler) List(c *gin.Context) {
	pageNo, ok := request.Int(c, "pageNo", 1)
	if !ok {
		return
	}
	pageSize, ok := request.Int(c, "pageSize", 10)
	if !ok {
		return
	}
	if pageNo < 1 {
		pageNo = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	q := UserQuery{
		Username: c.Query("username"),
		NickName: c.Query("nickName"),
		Email:    c.Query("email"),
		PageNo:   pageNo,
		PageSize: pageSize,
	}
	users, total, err := h.users.Search(c.Request.Context(), q)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("search users failed", slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query users failed"})
		return
	}

	list := make([]userDetailVo, 0, len(users))
	for i := range users {
		u := &users[i]
		list = append(list, userDetailVo{
			ID:          u.ID,
			Username:    u.Username,
			NickName:    u.NickName,
			Email:       u.Email,
			HeadPic:     u.HeadPic,
			PhoneNumber: u.PhoneNumber,
			IsFrozen:    u.IsFrozen,
			CreateTime:  u.CreateTime.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"list":       list,
		"totalCount": total,
	})
}

// identityOf 把存储里的用户转换成令牌身份快照。
func identityOf(user *model.User) *token.Identity {
	return &token.Identity{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       model.RoleNames(user.Roles),
		Permissions: model.FlattenPermissions(user.Roles),
		IsAdmin:     user.IsAdmin,
	}
}

func userVoOf(user *model.User) userVo {
	return userVo{
		ID:          user.ID,
		Username:    user.Username,
		NickName:    user.NickName,
		Email:       user.Email,
		HeadPic:     user.HeadPic,
		PhoneNumber: user.PhoneNumber,
		IsFrozen:    user.IsFrozen,
		IsAdmin:     user.IsAdmin,
		CreateTime:  user.CreateTime.UnixMilli(),
		Roles:       model.RoleNames(user.Roles),
		Permissions: model.FlattenPermissions(user.Roles),
	}
}

// generateCode 生成 n 位纯数字验证码。
func generateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = '0' + (buf[i] % 10)
	}
	return string(buf), nil
}
