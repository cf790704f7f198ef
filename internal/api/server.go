package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"roombook/internal/api/auth"
	"roombook/internal/api/middleware"
	"roombook/internal/api/token"
	"roombook/internal/config"
	"roombook/internal/model"
	"roombook/internal/pkg/captcha"
	"roombook/internal/pkg/metrics"
	"roombook/internal/pkg/notify"
	"roombook/internal/pkg/queue"
	"roombook/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、令牌管理器以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	tokens *token.Manager
	auth   *auth.Handler

	rooms    RoomStore
	bookings BookingStore
	mails    *queue.Queue
}

// route 描述一条路由及其访问要求。
//
// 鉴权要求在这里声明式地给出：requireLogin 决定是否挂登录守卫，
// permissions 非空时额外挂权限守卫。
type route struct {
	method       string
	path         string
	handler      gin.HandlerFunc
	requireLogin bool
	permissions  []string
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化令牌管理器、验证码存储、邮件队列与限流器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,                                          // 唯一键冲突翻译为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Role{}, &model.Permission{}, &model.MeetingRoom{}, &model.Booking{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.Security.JWTSecret, cfg.Security.AccessTokenTTL, cfg.Security.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	codes := captcha.NewStore(rdb, cfg.Security.CaptchaTTL)
	mailer := notify.NewEmailNotifier(&cfg.Email, logger)

	// 同一邮箱 60 秒内只发一次验证码
	interval := cfg.Security.CaptchaSendInterval.Seconds()
	if interval <= 0 {
		interval = 60
	}
	limiter := ratelimit.NewRedisLimiter(rdb, "roombook:ratelimit:captcha:", 1.0/interval, 1)

	mails := queue.NewQueue(logger, cfg.App.MailWorkers, cfg.App.MailQueueCapacity)
	mails.SetErrorHandler(func(err error, job queue.Job) {
		metrics.MailJobsTotal.WithLabelValues("error").Inc()
	})
	mails.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Timeout(10 * time.Second))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		tokens:   tokens,
		auth:     auth.NewHandler(auth.NewGormUserStore(db), tokens, codes, mailer, limiter, mails, logger),
		rooms:    gormRoomStore{db: db},
		bookings: gormBookingStore{db: db},
		mails:    mails,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭邮件队列、数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.mails != nil {
		if err := s.mails.ShutdownWithTimeout(5 * time.Second); err != nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// routes 返回完整的路由表。
func (s *Server) routes() []route {
	return []route{
		{method: http.MethodPost, path: "/user/login", handler: s.auth.Login},
		{method: http.MethodPost, path: "/user/admin_login", handler: s.auth.AdminLogin},
		{method: http.MethodPost, path: "/user/register", handler: s.auth.Register},
		{method: http.MethodGet, path: "/user/register_captcha", handler: s.auth.Captcha},
		{method: http.MethodGet, path: "/user/refresh", handler: s.auth.Refresh},
		{method: http.MethodPost, path: "/user/update_password", handler: s.auth.UpdatePassword, requireLogin: true},
		{method: http.MethodGet, path: "/user/info", handler: s.auth.Info, requireLogin: true},
		{method: http.MethodGet, path: "/user/list", handler: s.auth.List, requireLogin: true},
		{method: http.MethodGet, path: "/user/freeze", handler: s.auth.Freeze, requireLogin: true, permissions: []string{"ddd"}},

		{method: http.MethodPost, path: "/meeting_room/create", handler: s.handleCreateRoom, requireLogin: true, permissions: []string{"ddd"}},
		{method: http.MethodPost, path: "/meeting_room/update", handler: s.handleUpdateRoom, requireLogin: true, permissions: []string{"ddd"}},
		{method: http.MethodGet, path: "/meeting_room/delete", handler: s.handleDeleteRoom, requireLogin: true, permissions: []string{"ddd"}},
		{method: http.MethodGet, path: "/meeting_room/list", handler: s.handleListRooms},
		{method: http.MethodGet, path: "/meeting_room/find", handler: s.handleFindRoom},

		{method: http.MethodPost, path: "/booking/list", handler: s.handleListBookings, requireLogin: true},
	}
}

// registerRoutes 按路由表注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	for _, rt := range s.routes() {
		handlers := make([]gin.HandlerFunc, 0, 3)
		if rt.requireLogin {
			handlers = append(handlers, middleware.Login(s.tokens))
		}
		if len(rt.permissions) > 0 {
			handlers = append(handlers, middleware.RequirePermission(rt.permissions...))
		}
		handlers = append(handlers, rt.handler)
		s.router.Handle(rt.method, rt.path, handlers...)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
