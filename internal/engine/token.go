package engine

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/loykin/taskserve/internal/kv"
)

const (
	tokenIssuerName = "taskserve"
	tokenTTL        = 5 * time.Minute
)

// tokenIssuer signs the params handed to a module so the module can prove
// they came from this server. The key lives only as long as the server.
type tokenIssuer struct {
	key []byte
}

func newTokenIssuer() (*tokenIssuer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate token key: %w", err)
	}
	return &tokenIssuer{key: key}, nil
}

type paramsClaims struct {
	Params map[string]string `json:"params"`
	jwt.RegisteredClaims
}

func (t *tokenIssuer) issue(params kv.Map, requestID string) (string, error) {
	now := time.Now()
	claims := paramsClaims{
		Params: params.Clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuerName,
			ID:        requestID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

func (t *tokenIssuer) verify(token string) (kv.Map, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	var claims paramsClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithIssuer(tokenIssuerName), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return kv.Map(claims.Params).Clone(), nil
}
