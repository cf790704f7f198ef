package middleware

import (
	"net/http"
	"strings"

	"roombook/internal/api/token"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Login 校验访问令牌并将解码出的身份写入请求上下文。
//
// 只有路由表里声明了 requireLogin 的路由才会挂载本中间件；
// 未声明的路由不经过校验，上下文中也不会有身份。
func Login(tokens *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户未登录"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token 失效，请重新登录"})
			c.Abort()
			return
		}

		identity, err := tokens.VerifyAccess(parts[1])
		if err != nil {
			// 过期与签名错误不对外区分
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token 失效，请重新登录"})
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequirePermission 校验身份是否拥有全部给定权限，缺一不可。
//
// 必须排在 Login 之后执行；如果路由没走 Login 也没有身份，按未登录处理。
func RequirePermission(codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(codes) == 0 {
			c.Next()
			return
		}

		identity, ok := IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户未登录"})
			c.Abort()
			return
		}

		for _, code := range codes {
			if !identity.HasPermission(code) {
				c.JSON(http.StatusForbidden, gin.H{"error": "您没有访问该接口的权限"})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// IdentityFrom 读取 Login 中间件写入的身份。
func IdentityFrom(c *gin.Context) (*token.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*token.Identity)
	return identity, ok
}
