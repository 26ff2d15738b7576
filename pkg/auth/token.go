package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims carried by a dashboard credential token. The
// registered ID claim (jti) is the tid used as the revocation key.
type Claims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	CompanyID string `json:"companyId,omitempty"`
}

// IssueToken mints a signed HS256 token for the subject. Tokens are immutable
// after issuance; revocation happens externally through the Denylist.
func IssueToken(secret []byte, subject, companyID string, role Role, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      role,
		CompanyID: companyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("token signing failed: %w", err)
	}
	return signed, claims, nil
}

// ParseToken validates raw and returns its claims. Only HS256 is accepted;
// expiry and issue time are enforced by the jwt library.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("token missing subject or id")
	}
	return claims, nil
}
