package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HMAC-signed bearer tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

type jwtClaims struct {
	UserID int64 `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTVerifier constructs a verifier for HS256 tokens signed with secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: empty JWT secret")
	}
	return &JWTVerifier{secret: secret, leeway: 30 * time.Second}, nil
}

// Verify parses and validates the token, returning the embedded user id.
// The user id is read from the "user_id" claim, falling back to a numeric "sub".
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadCredential, err)
	}

	if claims.UserID > 0 {
		return claims.UserID, nil
	}
	if sub := claims.Subject; sub != "" {
		id, err := strconv.ParseInt(sub, 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: missing user id claim", ErrBadCredential)
}
