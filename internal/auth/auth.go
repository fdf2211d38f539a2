// Package auth implements credential verification and stateless JWT
// session tokens for the forum API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnato/forum/internal/model"
	"github.com/learnato/forum/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// The three Authenticate failures all surface as 401 at the HTTP
// boundary but stay distinguishable for logging and tests.
var (
	ErrNoToken            = errors.New("no session token")
	ErrInvalidToken       = errors.New("invalid or expired session token")
	ErrUserNotFound       = errors.New("session user no longer exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const bcryptCost = 10

type Service struct {
	store    store.Store
	secret   []byte
	tokenTTL time.Duration
}

// Claims binds a user id to the token's registered expiry claim.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

func NewService(st store.Store, secret []byte, tokenTTL time.Duration) *Service {
	return &Service{store: st, secret: secret, tokenTTL: tokenTTL}
}

// Register creates a user with a bcrypt-hashed password. The raw
// password is hashed immediately and never stored or logged. A
// case-sensitive duplicate username yields store.ErrDuplicateUsername.
func (s *Service) Register(ctx context.Context, username, password string) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return model.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

// Login verifies a username/password pair. Unknown usernames and wrong
// passwords both return ErrInvalidCredentials so callers cannot
// enumerate accounts.
func (s *Service) Login(ctx context.Context, username, password string) (model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return model.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}

// IssueToken signs a session token embedding the user id and an expiry.
func (s *Service) IssueToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
		UserID: userID,
	})
	return token.SignedString(s.secret)
}

// TokenTTL is the lifetime of issued tokens, exposed so the HTTP layer
// can align the cookie max age with the token expiry.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Authenticate resolves a session token to its user. The returned user
// never carries the password hash.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (model.User, error) {
	if tokenString == "" {
		return model.User{}, ErrNoToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return model.User{}, ErrInvalidToken
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}
