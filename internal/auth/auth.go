package auth

import (
	"errors"
	"fmt"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of an identity provider token this service reads.
// Older tokens carry the subject in user_id rather than sub.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal returns the verified user id.
func (c *Claims) Principal() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// TokenVerifier checks bearer tokens issued elsewhere. Issuance is not part of
// this service.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired.WithCause(err)
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}
	if !token.Valid || claims.Principal() == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
