// Package auth - выдача и проверка токенов доступа к административному API
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "freeminer"

// ErrInvalidToken - токен не прошел проверку подписи или срока действия
var ErrInvalidToken = errors.New("invalid token")

// Claims - содержимое токена администратора
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// TokenManager подписывает и проверяет токены HS256
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager принимает ключ в base64. Пустой ключ заменяется случайным:
// такие токены перестают действовать после перезапуска сервера.
func NewTokenManager(secretB64 string, ttl time.Duration) (*TokenManager, error) {
	var secret []byte
	if secretB64 == "" {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("генерация ключа: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(secretB64)
		if err != nil {
			return nil, fmt.Errorf("ключ подписи не в base64: %w", err)
		}
		if len(decoded) < 32 {
			return nil, errors.New("ключ подписи короче 32 байт")
		}
		secret = decoded
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: secret, ttl: ttl}, nil
}

// Issue выдает токен для subject и возвращает момент его истечения
func (m *TokenManager) Issue(subject string, admin bool) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Validate проверяет подпись, алгоритм, издателя и срок действия
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecret возвращает новый ключ подписи в base64
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
