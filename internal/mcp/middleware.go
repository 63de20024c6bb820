package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"

	loggerpkg "PromptForge-MCP/pkg/logger"
)

// BearerAuth 返回基于静态令牌的鉴权中间件。
// token 为空时鉴权关闭，所有请求直接放行。
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := extractBearer(r.Header.Get("Authorization"))
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"remote", r.RemoteAddr,
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearer 从 Authorization 头中取出令牌，兼容省略 Bearer 前缀的客户端。
func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
