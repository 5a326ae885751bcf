// Package auth guards the operator API with static bearer tokens.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/pkg/logger"
)

const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "authentication required",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "permission denied",
		Severity: xerrors.SeverityWarning,
	})
}

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken     = xerrors.New(CodeUnauthenticated, "missing bearer token")
	ErrInvalidToken     = xerrors.New(CodeUnauthenticated, "invalid token")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

type credential struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service authenticates bearer tokens against the configured operators.
type Service struct {
	mode        Mode
	credentials []credential
	audit       *slog.Logger
}

// NewService resolves every configured token. A token mode without any
// usable token is a configuration error.
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的认证模式: %s", mode))
	}

	for _, tc := range cfg.Tokens {
		digest, err := resolveDigest(tc)
		if err != nil {
			return nil, err
		}
		perms := tc.Permissions
		if len(perms) == 0 {
			perms = []string{PermissionRead}
		}
		svc.credentials = append(svc.credentials, credential{
			digest:  digest,
			subject: Subject{Name: tc.Subject, Permissions: append([]string(nil), perms...)},
		})
	}
	if len(svc.credentials) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token 模式下至少需要配置一个令牌")
	}
	return svc, nil
}

func resolveDigest(tc TokenConfig) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	if tc.TokenSHA256 != "" {
		raw, err := hex.DecodeString(strings.TrimSpace(tc.TokenSHA256))
		if err != nil || len(raw) != sha256.Size {
			return digest, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("操作员 %s 的 token_sha256 无效", tc.Subject))
		}
		copy(digest[:], raw)
		return digest, nil
	}
	if tc.TokenEnv != "" {
		secret := strings.TrimSpace(os.Getenv(tc.TokenEnv))
		if secret == "" {
			return digest, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("环境变量 %s 未设置", tc.TokenEnv))
		}
		return sha256.Sum256([]byte(secret)), nil
	}
	return digest, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("操作员 %s 未配置令牌", tc.Subject))
}

// Mode returns the active authentication mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest resolves the subject behind an Authorization header.
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	for i := range s.credentials {
		c := &s.credentials[i]
		if subtle.ConstantTimeCompare(digest[:], c.digest[:]) == 1 {
			subject := c.subject
			subject.Permissions = append([]string(nil), c.subject.Permissions...)
			subject.permissionsSet = nil
			return &subject, nil
		}
	}
	return nil, ErrInvalidToken
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// HashToken returns the hex digest to place in token_sha256.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
