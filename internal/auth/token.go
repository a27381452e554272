package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/vocabstore/internal/model"
)

// ErrInvalidToken はセッショントークンの検証に失敗したことを表す。
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims はセッショントークンに含めるクレーム。
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager はHS256で署名したセッショントークンを発行・検証する。
// トークンはステートレスで、サーバー側には保存しない。
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL はトークンの有効期間を返す。
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue はユーザーのセッショントークンを発行する。
func (m *TokenManager) Issue(user *model.User) (string, error) {
	now := m.now()
	claims := SessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Parse はセッショントークンを検証し、クレームを返す。
// 署名不正・期限切れ・形式不正はすべてErrInvalidTokenとして扱う。
func (m *TokenManager) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
