package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID       string `json:"uid"`
	TenantID     string `json:"tid,omitempty"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	MetadataRole string `json:"meta_role,omitempty"`
	EmployerID   string `json:"employer_id,omitempty"`
	TokenType    string `json:"type"`
}

// TokenService validates session JWTs. Issuing is only used by tests and
// the operator CLI; real sessions come from the identity provider.
type TokenService struct {
	signingKey  []byte
	issuer      string
	expiryHours int
}

func NewTokenService(signingKey, issuer string, expiryHours int) *TokenService {
	return &TokenService{
		signingKey:  []byte(signingKey),
		issuer:      issuer,
		expiryHours: expiryHours,
	}
}

func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	now := time.Now()

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expiryHours) * time.Hour)),
		},
		UserID:       identity.UserID,
		TenantID:     identity.TenantID,
		Email:        identity.Email,
		DisplayName:  identity.DisplayName,
		Role:         identity.Role,
		MetadataRole: identity.MetadataRole,
		EmployerID:   identity.EmployerID,
		TokenType:    "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid claim", ErrTokenInvalid)
	}

	return &Identity{
		UserID:       claims.UserID,
		TenantID:     claims.TenantID,
		Email:        claims.Email,
		DisplayName:  claims.DisplayName,
		Role:         claims.Role,
		MetadataRole: claims.MetadataRole,
		EmployerID:   claims.EmployerID,
		TokenType:    claims.TokenType,
	}, nil
}
