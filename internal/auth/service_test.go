package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/comic-library/internal/credentials"
	"github.com/yourusername/comic-library/internal/session"
)

// memoryCredentials はテスト用の認証情報ストアです。
type memoryCredentials struct {
	mu          sync.Mutex
	users       map[string]*credentials.User
	nextID      int64
	findCalls   int
	insertCalls int
	findErr     error
	insertErr   error
}

func newMemoryCredentials() *memoryCredentials {
	return &memoryCredentials{users: make(map[string]*credentials.User)}
}

func (s *memoryCredentials) FindByUsername(_ context.Context, username string) (*credentials.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	user, ok := s.users[username]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memoryCredentials) Insert(_ context.Context, username, email, hash string) (*credentials.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	if _, ok := s.users[username]; ok {
		return nil, fmt.Errorf("%w: %s", credentials.ErrDuplicateUsername, username)
	}
	s.nextID++
	user := &credentials.User{ID: s.nextID, Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	s.users[username] = user
	copied := *user
	return &copied, nil
}

func (s *memoryCredentials) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type testEnv struct {
	service  *Service
	store    *memoryCredentials
	sessions *session.MemoryStore
	manager  *session.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var defaultSessionOptions = session.Options{
	MaxLifetime: 12 * time.Hour,
	IdleTimeout: 30 * time.Minute,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, defaultSessionOptions)
}

func newTestEnvWithOptions(t *testing.T, opts session.Options) *testEnv {
	t.Helper()
	store := newMemoryCredentials()
	sessionStore := session.NewMemoryStore()
	manager := session.NewManager(sessionStore, opts, nil)
	return &testEnv{
		service:  NewService(store, newTestHasher(t, 4), manager, discardLogger(), nil),
		store:    store,
		sessions: sessionStore,
		manager:  manager,
	}
}

func alice(password, confirm string) RegisterInput {
	return RegisterInput{
		Username:        "alice",
		Email:           "alice@x.com",
		Password:        password,
		ConfirmPassword: confirm,
	}
}

func TestService_AliceScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	identity, err := env.service.Register(ctx, alice("pw123", "pw123"))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	// 登録ではセッションを作らない
	assert.Zero(t, env.sessions.Len())

	_, err = env.service.Register(ctx, alice("pw456", "pw456"))
	assert.ErrorIs(t, err, ErrUsernameTaken)

	result, err := env.service.Login(ctx, "alice", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, identity.ID, result.Identity.ID)
	assert.Equal(t, 1, env.sessions.Len())

	_, err = env.service.Login(ctx, "alice", "wrongpw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, env.sessions.Len())

	resolved, err := env.service.Authenticate(ctx, result.Token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "alice", resolved.Username)

	require.NoError(t, env.service.Logout(ctx, result.Token))
	resolved, err = env.service.Authenticate(ctx, result.Token)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestService_PasswordMismatchNeverTouchesStore(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Register(context.Background(), alice("pw123", "pw124"))
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Zero(t, env.store.findCalls)
	assert.Zero(t, env.store.insertCalls)
	assert.Zero(t, env.store.count())
}

func TestService_RegisterInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterInput
	}{
		{name: "blank username", input: RegisterInput{Username: "  ", Email: "a@x.com", Password: "pw", ConfirmPassword: "pw"}},
		{name: "blank email", input: RegisterInput{Username: "alice", Email: "", Password: "pw", ConfirmPassword: "pw"}},
		{name: "malformed email", input: RegisterInput{Username: "alice", Email: "not-an-email", Password: "pw", ConfirmPassword: "pw"}},
		{name: "email with display name", input: RegisterInput{Username: "alice", Email: "Bob <bob@x.com>", Password: "pw", ConfirmPassword: "pw"}},
		{name: "email with surrounding spaces", input: RegisterInput{Username: "alice", Email: " a@x.com ", Password: "pw", ConfirmPassword: "pw"}},
		{name: "blank password", input: RegisterInput{Username: "alice", Email: "a@x.com"}},
		{name: "username too long", input: RegisterInput{Username: strings.Repeat("a", 65), Email: "a@x.com", Password: "pw", ConfirmPassword: "pw"}},
		{name: "password too long", input: RegisterInput{Username: "alice", Email: "a@x.com", Password: strings.Repeat("p", 73), ConfirmPassword: strings.Repeat("p", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.service.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, env.store.insertCalls)
		})
	}
}

func TestService_RegisterStoreFailures(t *testing.T) {
	ctx := context.Background()
	unavailable := fmt.Errorf("%w: disk I/O error", credentials.ErrStoreUnavailable)

	t.Run("lookup failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.findErr = unavailable

		_, err := env.service.Register(ctx, alice("pw123", "pw123"))
		assert.ErrorIs(t, err, ErrRegistrationFailed)
		assert.ErrorIs(t, err, credentials.ErrStoreUnavailable)
		assert.Zero(t, env.store.insertCalls)
	})

	t.Run("insert failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.insertErr = unavailable

		_, err := env.service.Register(ctx, alice("pw123", "pw123"))
		assert.ErrorIs(t, err, ErrRegistrationFailed)
	})

	t.Run("duplicate detected at insert", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.insertErr = fmt.Errorf("%w: alice", credentials.ErrDuplicateUsername)

		_, err := env.service.Register(ctx, alice("pw123", "pw123"))
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})
}

func TestService_ConcurrentRegistrationSameUsername(t *testing.T) {
	ctx := context.Background()
	store, err := credentials.OpenSQLite(ctx, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := session.NewManager(session.NewMemoryStore(), session.Options{
		MaxLifetime: time.Hour,
		IdleTimeout: time.Minute,
	}, nil)
	service := NewService(store, newTestHasher(t, 4), manager, discardLogger(), nil)

	const attempts = 6
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.Register(ctx, RegisterInput{
				Username:        "bob",
				Email:           fmt.Sprintf("bob%d@x.com", i),
				Password:        "pw123",
				ConfirmPassword: "pw123",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, taken int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrUsernameTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, taken)

	// 勝者の資格情報でログインできる
	_, err = service.Login(ctx, "bob", "pw123")
	assert.NoError(t, err)
}

func TestService_LoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.service.Register(ctx, alice("pw123", "pw123"))
	require.NoError(t, err)

	_, unknownErr := env.service.Login(ctx, "mallory", "pw123")
	_, wrongErr := env.service.Login(ctx, "alice", "nope")
	_, caseErr := env.service.Login(ctx, "Alice", "pw123")

	for _, err := range []error{unknownErr, wrongErr, caseErr} {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}
	assert.Zero(t, env.sessions.Len())
}

func TestService_LoginRejectsPasswordExtendingStoredOne(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	pw := strings.Repeat("x", 72)
	_, err := env.service.Register(ctx, alice(pw, pw))
	require.NoError(t, err)

	_, err = env.service.Login(ctx, "alice", pw+"WRONG-SUFFIX")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, env.sessions.Len())

	result, err := env.service.Login(ctx, "alice", pw)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

func TestService_LoginInfrastructureFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("store unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.findErr = fmt.Errorf("%w: timeout", credentials.ErrStoreUnavailable)

		_, err := env.service.Login(ctx, "alice", "pw123")
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	})

	t.Run("blank input", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.Login(ctx, "", "pw123")
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Zero(t, env.store.findCalls)
	})
}

func TestService_LogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.NoError(t, env.service.Logout(ctx, ""))
	assert.NoError(t, env.service.Logout(ctx, strings.Repeat("cd", 32)))

	_, err := env.service.Register(ctx, alice("pw123", "pw123"))
	require.NoError(t, err)
	result, err := env.service.Login(ctx, "alice", "pw123")
	require.NoError(t, err)

	assert.NoError(t, env.service.Logout(ctx, result.Token))
	assert.NoError(t, env.service.Logout(ctx, result.Token))
}

func TestError_Is(t *testing.T) {
	wrapped := newError(ErrRegistrationFailed, errors.New("boom"))

	assert.ErrorIs(t, wrapped, ErrRegistrationFailed)
	assert.NotErrorIs(t, wrapped, ErrUsernameTaken)
	assert.Equal(t, "REGISTRATION_FAILED: boom", wrapped.Error())
	assert.Equal(t, "USERNAME_TAKEN", ErrUsernameTaken.Error())
}
