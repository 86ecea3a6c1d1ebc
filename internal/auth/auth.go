package auth

import (
	"errors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Identity is what the session provider asserts about an already
// authenticated caller. Role claims are raw strings; rbac.Resolver turns an
// Identity into a Principal.
type Identity struct {
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	// Role is the profile role claim.
	Role string `json:"role,omitempty"`
	// MetadataRole is the identity provider's user metadata role claim.
	MetadataRole string `json:"metadata_role,omitempty"`
	// EmployerID is set for users that administer an employer tenant.
	EmployerID string `json:"employer_id,omitempty"`
	TokenType  string `json:"token_type"` // "access"
}
