package httpapi

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"boutiquepos/backend/internal/domain"
)

// AuthManager signs and verifies the short-lived HS256 bearer tokens the
// till clients carry. Credential checks live in the service layer; this
// type only deals in tokens.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
}

type posClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{secret: []byte(secret), tokenTTL: tokenTTL}
}

func (a *AuthManager) Issue(username, role string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("token missing subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}
