package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/form"
)

const principalKey = "principal"

// Authenticator 将令牌转换为调用者身份
type Authenticator interface {
	Authenticate(tokenString string) (form.Principal, error)
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "missing authorization header",
			})
			c.Abort()
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		principal, err := authenticator.Authenticate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "invalid token",
				"detail":  err.Error(),
			})
			c.Abort()
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// SetPrincipal 将调用者身份存储到上下文
func SetPrincipal(c *gin.Context, p form.Principal) {
	c.Set(principalKey, p)
	c.Set("user_id", p.ID)
	c.Set("role", string(p.Role))
	c.Set("department", p.Department)
}

// PrincipalFrom 从上下文读取调用者身份
func PrincipalFrom(c *gin.Context) (form.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return form.Principal{}, false
	}
	p, ok := v.(form.Principal)
	return p, ok
}
