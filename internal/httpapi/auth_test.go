package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	stored, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "admin123", stored[0].Password)
	assert.True(t, isPasswordHash(stored[0].Password))
	assert.GreaterOrEqual(t, users.updates, 1)
}

func TestAuthManagerTokenRoundTrip(t *testing.T) {
	hash, err := hashPassword("secret-pass")
	require.NoError(t, err)
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"cashier": {Username: "cashier", Password: hash, Role: domain.RoleCashier, Active: true},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Cashier ", Password: "secret-pass"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCashier, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "cashier", Role: domain.RoleCashier}, actor)

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, users)
	_, err = other.ParseToken(resp.AccessToken)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestAuthManagerRejectsBadCredentials(t *testing.T) {
	hash, err := hashPassword("secret-pass")
	require.NoError(t, err)
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"cashier": {Username: "cashier", Password: hash, Role: domain.RoleCashier, Active: true},
			"retired": {Username: "retired", Password: hash, Role: domain.RoleCashier, Active: false},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "wrong"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "nobody", Password: "secret-pass"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "retired", Password: "secret-pass"})
	assert.ErrorIs(t, err, errInactiveAccount)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, nil)
	token, err := manager.sign("cashier", domain.RoleCashier, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = manager.ParseToken(token)
	assert.ErrorIs(t, err, errInvalidToken)
}
