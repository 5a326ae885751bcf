package auth

import (
	"fmt"
	"strings"
)

// Permissions understood by the operator API.
const (
	PermissionRead = "nexus:read"
	PermissionHire = "nexus:hire"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	// ModeDisabled lets every request through.
	ModeDisabled Mode = "disabled"
	// ModeToken requires a configured bearer token.
	ModeToken Mode = "token"
)

// Config describes the operator tokens accepted by the API.
type Config struct {
	Mode   Mode          `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
}

// TokenConfig binds one bearer token to a named operator. The secret is read
// from TokenEnv or given as a hex SHA-256 digest, never in clear text.
type TokenConfig struct {
	Subject     string   `json:"subject"`
	TokenEnv    string   `json:"token_env"`
	TokenSHA256 string   `json:"token_sha256"`
	Permissions []string `json:"permissions"`
}

// Subject is the authenticated operator passed to handlers via context.
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		perm = strings.TrimSpace(perm)
		if perm == "" {
			continue
		}
		s.permissionsSet[perm] = struct{}{}
	}
}

// HasPermission reports whether the subject holds perm. The "*" permission
// grants everything.
func (s *Subject) HasPermission(perm string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[perm]
	return ok
}

// Authorize returns ErrPermissionDenied unless every perm is held.
func (s *Subject) Authorize(perms ...string) error {
	for _, perm := range perms {
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
