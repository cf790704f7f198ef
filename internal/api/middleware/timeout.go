package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout 给每个请求的上下文挂一个截止时间。
//
// 处理器对数据库和 redis 的访问都通过 c.Request.Context() 传递上下文，
// 挂在这里的 deadline 会让悬死的存储调用随请求一起被取消。
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
