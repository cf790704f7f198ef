package token

import (
	"errors"
	"time"

	"roombook/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// 未配置过期时间时的默认值。
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// ErrInvalidToken 表示令牌无效或已过期。
// 校验失败的具体原因（签名错误、过期、格式错误）不对外区分。
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity 是令牌解码后的请求方身份快照。
//
// 它只来源于校验通过的访问令牌，不回写存储；
// 字段与签发时的 payload 完全一致。
type Identity struct {
	ID          uint               `json:"id"`
	Username    string             `json:"username"`
	Email       string             `json:"email"`
	Roles       []string           `json:"roles"`
	Permissions []model.Permission `json:"permissions"`
	IsAdmin     bool               `json:"isAdmin"`
}

// HasPermission 判断身份是否拥有指定 code 的权限。
func (id *Identity) HasPermission(code string) bool {
	for _, p := range id.Permissions {
		if p.Code == code {
			return true
		}
	}
	return false
}

type accessClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
	Identity
}

type refreshClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
	UserID    uint   `json:"userId"`
	IsAdmin   bool   `json:"isAdmin"`
}

// Manager 负责签发与校验访问/刷新令牌。
// 两种令牌共用同一个对称密钥（HS256），无密钥轮换。
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager 创建令牌管理器。TTL 传 0 时使用默认值。
func NewManager(secret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// IssuePair 为身份签发一对访问/刷新令牌。
//
// 访问令牌携带完整的身份快照（id、username、email、roles、permissions、isAdmin），
// 刷新令牌只携带 userId 和 isAdmin。签发是无状态的，不产生任何副作用。
func (m *Manager) IssuePair(identity *Identity) (accessToken, refreshToken string, err error) {
	now := time.Now()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TokenType: typeAccess,
		Identity:  *identity,
	})
	accessToken, err = access.SignedString(m.secret)
	if err != nil {
		return "", "", err
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TokenType: typeRefresh,
		UserID:    identity.ID,
		IsAdmin:   identity.IsAdmin,
	})
	refreshToken, err = refresh.SignedString(m.secret)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// VerifyAccess 校验访问令牌（签名 + 过期）并还原身份。
// 任何失败都返回 ErrInvalidToken。
func (m *Manager) VerifyAccess(tokenString string) (*Identity, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil || !token.Valid || claims.TokenType != typeAccess {
		return nil, ErrInvalidToken
	}
	identity := claims.Identity
	if identity.Permissions == nil {
		identity.Permissions = []model.Permission{}
	}
	return &identity, nil
}

// VerifyRefresh 校验刷新令牌，返回其携带的 userId 和 isAdmin。
func (m *Manager) VerifyRefresh(tokenString string) (userID uint, isAdmin bool, err error) {
	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil || !token.Valid || claims.TokenType != typeRefresh {
		return 0, false, ErrInvalidToken
	}
	return claims.UserID, claims.IsAdmin, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrSignatureInvalid
	}
	return m.secret, nil
}
