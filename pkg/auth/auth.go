package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// User is a registered venue client. The ID doubles as the ledger account id.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store mirrors users to durable storage, keyed by username.
type Store interface {
	SaveUser(u *User) error
	LoadUser(username string) (*User, error)
}

// Manager handles registration, login and bearer-token sessions.
type Manager struct {
	mu     sync.RWMutex
	users  map[string]*User // username -> user
	store  Store            // optional
	secret []byte
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewManager(secret string, ttl time.Duration, store Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		users:  make(map[string]*User),
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		log:    log,
	}
}

// Register creates a user and returns it with a fresh session token.
func (m *Manager) Register(username, password string) (*User, string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return nil, "", fmt.Errorf("username must be at least 3 characters")
	}
	if len(password) < 6 {
		return nil, "", fmt.Errorf("password must be at least 6 characters")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupLocked(username) != nil {
		return nil, "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	m.users[username] = u
	if m.store != nil {
		if err := m.store.SaveUser(u); err != nil {
			m.log.Warnw("user_persist_failed", "username", username, "err", err)
		}
	}

	token, err := m.issueToken(u)
	if err != nil {
		return nil, "", err
	}
	m.log.Infow("user_registered", "username", username, "id", u.ID)
	return u, token, nil
}

// Login verifies credentials and returns a fresh session token.
func (m *Manager) Login(username, password string) (*User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.lookupLocked(username)
	if u == nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := m.issueToken(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// VerifyToken validates a bearer token and returns the user id it names.
func (m *Manager) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// lookupLocked checks the cache, then the store.
func (m *Manager) lookupLocked(username string) *User {
	if u, ok := m.users[username]; ok {
		return u
	}
	if m.store == nil {
		return nil
	}
	u, err := m.store.LoadUser(username)
	if err != nil {
		m.log.Warnw("user_load_failed", "username", username, "err", err)
		return nil
	}
	if u != nil {
		m.users[username] = u
	}
	return u
}

func (m *Manager) issueToken(u *User) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      u.ID,
		"username": u.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(m.ttl).Unix(),
	})
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
