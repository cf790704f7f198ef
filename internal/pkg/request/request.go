package request

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Int 解析整数查询参数，缺省时返回 defaultValue。
// 非数字时写入 400 响应并返回 false，调用方应直接返回。
func Int(c *gin.Context, name string, defaultValue int) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return defaultValue, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s 应该传数字", name)})
		return 0, false
	}
	return v, true
}

// ID 解析 id 查询参数，失败时写入 400 响应并返回 false。
func ID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id 应该传数字"})
		return 0, false
	}
	return uint(id), true
}
