package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	xerrors "MNEE-Nexus/internal/errors"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限列表，"*" 为兜底。
	RequiredPermissions map[string][]string
	// Public 列出无需认证的路径。
	Public []string
}

// DefaultPermissions maps reads to PermissionRead and every mutation to
// PermissionHire.
func DefaultPermissions() map[string][]string {
	return map[string][]string{
		http.MethodGet:  {PermissionRead},
		http.MethodHead: {PermissionRead},
		"*":             {PermissionHire},
	}
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			// 认证请求。
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err == nil {
				// 授权请求。
				perms := cfg.RequiredPermissions[r.Method]
				if len(perms) == 0 {
					perms = cfg.RequiredPermissions["*"]
				}
				err = subject.Authorize(perms...)
			}
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrPermissionDenied) {
					status = http.StatusForbidden
				}
				name := ""
				if subject != nil {
					name = subject.Name
				}
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"subject", name,
					"error", err.Error(),
				)
				writeDenied(w, status, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, err error) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="nexus"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(xerrors.CodeOf(err)),
			"message": xerrors.DetailOf(err),
		},
	})
}
