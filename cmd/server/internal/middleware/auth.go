package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/houzhh15/meetscribe/pkg/logger"
)

// Scopes
const (
	ScopeJobsRead  = "jobs.read"
	ScopeJobsWrite = "jobs.write"
)

// Claims 是 API 访问令牌的声明
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 令牌，ttl <= 0 时不设置过期
func IssueToken(secret []byte, subject string, scopes []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret key required")
	}
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "meetscribe",
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken 验证并返回 claims
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HasScope 判断是否具有 scope
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required || s == "*" {
			return true
		}
	}
	return false
}

// BearerAuth 校验 Authorization: Bearer <jwt>。secret 为空时不启用鉴权。
func BearerAuth(secret []byte, l *slog.Logger) gin.HandlerFunc {
	authLogger := logger.OrDefault(l).With("component", "auth-middleware")
	return func(c *gin.Context) {
		if len(secret) == 0 || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) < 8 {
			// 浏览器 websocket 无法设置 header，允许 query 参数
			if tok := c.Query("access_token"); tok != "" {
				auth = "Bearer " + tok
			} else {
				authLogger.Warn("missing bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
		}
		claims, err := ParseToken(secret, auth[7:])
		if err != nil {
			authLogger.Warn("invalid token", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user", claims.Subject)
		c.Set("scopes", claims.Scopes)
		c.Next()
	}
}

// RequireScope 要求当前令牌包含 scope。未启用鉴权时放行。
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("scopes")
		if !exists {
			c.Next()
			return
		}
		scopes, _ := v.([]string)
		if !HasScope(scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
			return
		}
		c.Next()
	}
}
