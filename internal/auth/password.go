package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials - неверное имя пользователя или пароль
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword возвращает bcrypt-хэш пароля с DefaultCost
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сравнивает bcrypt-хэш с паролем
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticator проверяет учетные данные единственного администратора
type Authenticator struct {
	tokens       *TokenManager
	user         string
	passwordHash string
}

func NewAuthenticator(tokens *TokenManager, user, passwordHash string) *Authenticator {
	return &Authenticator{tokens: tokens, user: user, passwordHash: passwordHash}
}

// Login выдает токен при верных учетных данных.
// Без настроенного хэша пароля вход запрещен.
func (a *Authenticator) Login(user, password string) (string, time.Time, error) {
	if a.passwordHash == "" || user != a.user || !CheckPassword(a.passwordHash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.tokens.Issue(user, true)
}

// Tokens возвращает менеджер токенов для проверки запросов
func (a *Authenticator) Tokens() *TokenManager { return a.tokens }
