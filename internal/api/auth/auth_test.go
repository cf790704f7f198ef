package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roombook/internal/api/token"
	"roombook/internal/model"
	"roombook/internal/pkg/captcha"
	"roombook/internal/pkg/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type mockUserStore struct {
	findByUsernameFunc func(ctx context.Context, username string, isAdmin bool) (*model.User, error)
	findByIDFunc       func(ctx context.Context, id uint) (*model.User, error)
	createFunc         func(ctx context.Context, user *model.User) error
	updatePassword     func(ctx context.Context, id uint, hash string) error
	freezeFunc         func(ctx context.Context, id uint) error
	searchFunc         func(ctx context.Context, q UserQuery) ([]model.User, int64, error)
	createCalls        int
}

func (m *mockUserStore) FindByUsername(ctx context.Context, username string, isAdmin bool) (*model.User, error) {
	return m.findByUsernameFunc(ctx, username, isAdmin)
}

func (m *mockUserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	return m.findByIDFunc(ctx, id)
}

func (m *mockUserStore) Create(ctx context.Context, user *model.User) error {
	m.createCalls++
	return m.createFunc(ctx, user)
}

func (m *mockUserStore) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return m.updatePassword(ctx, id, hash)
}

func (m *mockUserStore) Freeze(ctx context.Context, id uint) error {
	return m.freezeFunc(ctx, id)
}

func (m *mockUserStore) Search(ctx context.Context, q UserQuery) ([]model.User, int64, error) {
	return m.searchFunc(ctx, q)
}

type mockMailer struct {
	sent []string
}

func (m *mockMailer) SendVerificationCode(to string, code string) error {
	m.sent = append(m.sent, to)
	return nil
}

func newTestTokens(t *testing.T) *token.Manager {
	t.Helper()
	tokens, err := token.NewManager("test_secret", 0, 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return tokens
}

func newTestCaptcha(t *testing.T) (*captcha.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return captcha.NewStore(rdb, 5*time.Minute), mr
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func demoUser(t *testing.T) *model.User {
	return &model.User{
		ID:       1,
		Username: "zhangsan",
		Password: mustHash(t, "111111"),
		NickName: "张三",
		Email:    "zhangsan@xx.com",
		IsAdmin:  true,
		Roles: []model.Role{
			{
				Name: "管理员",
				Permissions: []model.Permission{
					{ID: 1, Code: "ccc", Description: "访问 ccc 接口"},
					{ID: 2, Code: "ddd", Description: "访问 ddd 接口"},
				},
			},
		},
	}
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	user := demoUser(t)
	store := &mockUserStore{
		findByUsernameFunc: func(ctx context.Context, username string, isAdmin bool) (*model.User, error) {
			if username != "zhangsan" || !isAdmin {
				return nil, gorm.ErrRecordNotFound
			}
			return user, nil
		},
	}
	h := NewHandler(store, newTestTokens(t), nil, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/admin_login", h.AdminLogin)

	w := postJSON(t, r, "/user/admin_login", gin.H{"username": "zhangsan", "password": "111111"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		UserInfo struct {
			Username    string             `json:"username"`
			Roles       []string           `json:"roles"`
			Permissions []model.Permission `json:"permissions"`
		} `json:"userInfo"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected token pair in response")
	}
	if len(resp.UserInfo.Roles) != 1 || resp.UserInfo.Roles[0] != "管理员" {
		t.Fatalf("unexpected roles: %v", resp.UserInfo.Roles)
	}
	if len(resp.UserInfo.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(resp.UserInfo.Permissions))
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)

	user := demoUser(t)
	user.IsAdmin = false
	store := &mockUserStore{
		findByUsernameFunc: func(ctx context.Context, username string, isAdmin bool) (*model.User, error) {
			return user, nil
		},
	}
	h := NewHandler(store, newTestTokens(t), nil, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/login", h.Login)

	w := postJSON(t, r, "/user/login", gin.H{"username": "zhangsan", "password": "wrong"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "密码错误" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
}

func TestLogin_UnknownUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &mockUserStore{
		findByUsernameFunc: func(ctx context.Context, username string, isAdmin bool) (*model.User, error) {
			return nil, gorm.ErrRecordNotFound
		},
	}
	h := NewHandler(store, newTestTokens(t), nil, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/login", h.Login)

	w := postJSON(t, r, "/user/login", gin.H{"username": "nobody", "password": "111111"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "用户名不存在" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
}

func TestRegister_CaptchaFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	codes, mr := newTestCaptcha(t)
	if err := codes.Set(context.Background(), "wangwu@xx.com", "123456"); err != nil {
		t.Fatalf("set captcha: %v", err)
	}

	store := &mockUserStore{
		createFunc: func(ctx context.Context, user *model.User) error {
			user.ID = 10
			return nil
		},
	}
	h := NewHandler(store, newTestTokens(t), codes, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/register", h.Register)

	body := gin.H{
		"username": "wangwu",
		"nickName": "王五",
		"password": "123456",
		"email":    "wangwu@xx.com",
		"captcha":  "123456",
	}

	// 错误的验证码
	bad := gin.H{}
	for k, v := range body {
		bad[k] = v
	}
	bad["captcha"] = "000000"
	w := postJSON(t, r, "/user/register", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong captcha: expected 400, got %d", w.Code)
	}

	// 正确的验证码
	w = postJSON(t, r, "/user/register", body)
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.createCalls != 1 {
		t.Fatalf("expected 1 create call, got %d", store.createCalls)
	}

	// 验证码已被消费，重放失败
	w = postJSON(t, r, "/user/register", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: expected 400, got %d", w.Code)
	}

	// 过期的验证码
	if err := codes.Set(context.Background(), "wangwu@xx.com", "654321"); err != nil {
		t.Fatalf("set captcha: %v", err)
	}
	mr.FastForward(5*time.Minute + time.Second)
	body["captcha"] = "654321"
	w = postJSON(t, r, "/user/register", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expired: expected 400, got %d", w.Code)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)

	codes, _ := newTestCaptcha(t)
	if err := codes.Set(context.Background(), "lisi@yy.com", "111222"); err != nil {
		t.Fatalf("set captcha: %v", err)
	}

	store := &mockUserStore{
		createFunc: func(ctx context.Context, user *model.User) error {
			return gorm.ErrDuplicatedKey
		},
	}
	h := NewHandler(store, newTestTokens(t), codes, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/register", h.Register)

	w := postJSON(t, r, "/user/register", gin.H{
		"username": "lisi",
		"nickName": "李四",
		"password": "123456",
		"email":    "lisi@yy.com",
		"captcha":  "111222",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "用户已存在" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
}

func TestCaptcha_InvalidEmailAndDelivery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	codes, _ := newTestCaptcha(t)
	mailer := &mockMailer{}
	h := NewHandler(&mockUserStore{}, newTestTokens(t), codes, mailer, nil, nil, nil)

	r := gin.New()
	r.GET("/user/register_captcha", h.Captcha)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/register_captcha?address=not-an-email", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/register_captcha?address=abc@xx.com", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "abc@xx.com" {
		t.Fatalf("expected mail delivered to abc@xx.com, got %v", mailer.sent)
	}

	// 验证码已写入 redis
	code, err := codes.Get(context.Background(), "abc@xx.com")
	if err != nil {
		t.Fatalf("get captcha: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
}

func TestRefresh_ReloadsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	user := demoUser(t)
	tokens := newTestTokens(t)
	_, refreshToken, err := tokens.IssuePair(&token.Identity{ID: user.ID, IsAdmin: true})
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	store := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id uint) (*model.User, error) {
			if id != user.ID {
				return nil, gorm.ErrRecordNotFound
			}
			return user, nil
		},
	}
	h := NewHandler(store, tokens, nil, nil, nil, nil, nil)

	r := gin.New()
	r.GET("/user/refresh", h.Refresh)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/refresh?refreshToken="+refreshToken, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	// 新的访问令牌携带从存储重新加载的权限
	identity, err := tokens.VerifyAccess(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if !identity.HasPermission("ddd") {
		t.Fatalf("expected refreshed identity to carry ddd permission")
	}

	// 伪造的刷新令牌被拒绝
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/refresh?refreshToken=garbage", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUpdatePassword_EmailBindingAndRehash(t *testing.T) {
	gin.SetMode(gin.TestMode)

	codes, _ := newTestCaptcha(t)
	if err := codes.Set(context.Background(), "zhangsan@xx.com", "888999"); err != nil {
		t.Fatalf("set captcha: %v", err)
	}

	var storedHash string
	store := &mockUserStore{
		updatePassword: func(ctx context.Context, id uint, hash string) error {
			if id != 1 {
				t.Fatalf("expected update for user 1, got %d", id)
			}
			storedHash = hash
			return nil
		},
	}
	h := NewHandler(store, newTestTokens(t), codes, nil, nil, nil, nil)

	r := gin.New()
	r.POST("/user/update_password", func(c *gin.Context) {
		c.Set("identity", &token.Identity{ID: 1, Username: "zhangsan", Email: "zhangsan@xx.com"})
		h.UpdatePassword(c)
	})

	// 非绑定邮箱
	w := postJSON(t, r, "/user/update_password", gin.H{
		"password": "newpass1",
		"email":    "lisi@yy.com",
		"captcha":  "888999",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "请输入该用户绑定邮箱" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
	if storedHash != "" {
		t.Fatalf("password must not change on email mismatch")
	}

	// 绑定邮箱 + 正确验证码
	w = postJSON(t, r, "/user/update_password", gin.H{
		"password": "newpass1",
		"email":    "zhangsan@xx.com",
		"captcha":  "888999",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if storedHash == "" {
		t.Fatalf("expected password hash to be stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte("newpass1")); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}

	// 验证码已被消费，重放失败
	w = postJSON(t, r, "/user/update_password", gin.H{
		"password": "newpass2",
		"email":    "zhangsan@xx.com",
		"captcha":  "888999",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: expected 400, got %d", w.Code)
	}
}

func TestFreeze_SetsFrozenFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var frozenID uint
	store := &mockUserStore{
		freezeFunc: func(ctx context.Context, id uint) error {
			frozenID = id
			return nil
		},
	}
	h := NewHandler(store, newTestTokens(t), nil, nil, nil, nil, nil)

	r := gin.New()
	r.GET("/user/freeze", h.Freeze)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/freeze?id=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if frozenID != 5 {
		t.Fatalf("expected user 5 frozen, got %d", frozenID)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["message"] != "success" {
		t.Fatalf("unexpected message: %q", resp["message"])
	}

	// 非数字 id
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/freeze?id=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCaptcha_Throttled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codes := captcha.NewStore(rdb, 5*time.Minute)
	limiter := ratelimit.NewRedisLimiter(rdb, "test:ratelimit:captcha:", 1.0/60.0, 1)
	mailer := &mockMailer{}
	h := NewHandler(&mockUserStore{}, newTestTokens(t), codes, mailer, limiter, nil, nil)

	r := gin.New()
	r.GET("/user/register_captcha", h.Captcha)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/register_captcha?address=abc@xx.com", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 60 秒内再次发送被限流
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/register_captcha?address=abc@xx.com", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second send: expected 429, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "发送过于频繁，请稍后再试" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected exactly 1 mail sent, got %d", len(mailer.sent))
	}

	// 其他地址不受影响
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/register_captcha?address=other@xx.com", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("other address: expected 200, got %d", w.Code)
	}
}

func TestList_NonNumericPage(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHandler(&mockUserStore{}, newTestTokens(t), nil, nil, nil, nil, nil)

	r := gin.New()
	r.GET("/user/list", h.List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/list?pageNo=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["error"] != "pageNo 应该传数字" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
}
