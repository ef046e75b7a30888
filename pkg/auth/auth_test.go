package auth

import (
	"errors"
	"testing"
	"time"
)

func testManager() *Manager {
	return NewManager("test-secret", time.Hour, nil, nil)
}

func TestRegisterAndLogin(t *testing.T) {
	m := testManager()

	u, token, err := m.Register("alice", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" || token == "" {
		t.Fatal("empty id or token")
	}

	u2, token2, err := m.Login("alice", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u2.ID != u.ID {
		t.Errorf("login returned different user: %s vs %s", u2.ID, u.ID)
	}
	if token2 == "" {
		t.Error("empty login token")
	}
}

func TestRegisterValidation(t *testing.T) {
	m := testManager()

	if _, _, err := m.Register("al", "hunter22"); err == nil {
		t.Error("short username accepted")
	}
	if _, _, err := m.Register("alice", "12345"); err == nil {
		t.Error("short password accepted")
	}

	if _, _, err := m.Register("alice", "hunter22"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Register("alice", "different"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate username: expected ErrUserExists, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	m := testManager()
	m.Register("alice", "hunter22")

	if _, _, err := m.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := m.Login("nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyToken(t *testing.T) {
	m := testManager()
	u, token, err := m.Register("alice", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	id, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != u.ID {
		t.Errorf("token subject: got %s, want %s", id, u.ID)
	}

	if _, err := m.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: expected ErrInvalidToken, got %v", err)
	}

	// tokens from another secret must not verify
	other := NewManager("other-secret", time.Hour, nil, nil)
	_, foreign, _ := other.Register("bob", "hunter22")
	if _, err := m.VerifyToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token: expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	m := NewManager("test-secret", -time.Minute, nil, nil)
	_, token, err := m.Register("alice", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: expected ErrInvalidToken, got %v", err)
	}
}

// memStore is an in-memory auth.Store for testing the persistence path.
type memStore struct {
	users map[string]*User
}

func (s *memStore) SaveUser(u *User) error {
	if s.users == nil {
		s.users = make(map[string]*User)
	}
	s.users[u.Username] = u
	return nil
}

func (s *memStore) LoadUser(username string) (*User, error) {
	return s.users[username], nil
}

func TestLoginFallsBackToStore(t *testing.T) {
	store := &memStore{}

	m1 := NewManager("test-secret", time.Hour, store, nil)
	u, _, err := m1.Register("alice", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	// fresh manager, cold cache: the user comes back from the store
	m2 := NewManager("test-secret", time.Hour, store, nil)
	u2, _, err := m2.Login("alice", "hunter22")
	if err != nil {
		t.Fatalf("login after restart: %v", err)
	}
	if u2.ID != u.ID {
		t.Errorf("restored user id: got %s, want %s", u2.ID, u.ID)
	}
}
