package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware 网关服务令牌认证中间件
// 网关适配器使用共享密钥签发的 HS256 JWT 调用引擎
// 未配置密钥时跳过认证（本地开发）
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(401, gin.H{
				"code": 401,
				"msg":  "missing bearer token",
			})
			c.Abort()
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := validateToken(tokenStr, secret)
		if err != nil {
			c.JSON(401, gin.H{
				"code": 401,
				"msg":  "invalid or expired token",
			})
			c.Abort()
			return
		}

		if adapter, ok := claims["sub"].(string); ok {
			c.Set("adapter_id", adapter)
		}
		c.Next()
	}
}

// validateToken 校验服务令牌
func validateToken(tokenStr, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GetAdapterID 从上下文获取网关适配器标识
func GetAdapterID(c *gin.Context) string {
	if v, exists := c.Get("adapter_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
