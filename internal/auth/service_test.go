package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/repository"
)

// --- モック定義 ---

// memUserRepo はメモリ上のUserRepository実装。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	createFn func(ctx context.Context, user *model.User) error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.User{}}
}

func (m *memUserRepo) put(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetTokenHash == tokenHash && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, _ *model.Identity) error {
	return m.Create(ctx, user)
}

func (m *memUserRepo) ResetPasswordWithToken(_ context.Context, userID, tokenHash, passwordHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ResetTokenHash != tokenHash || u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
		return false, nil
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = nil
	return true, nil
}

func (m *memUserRepo) SetResetToken(_ context.Context, userID, tokenHash string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.ResetTokenHash = tokenHash
	u.ResetTokenExpiresAt = expiresAt
	return nil
}

func (m *memUserRepo) AddPurchasedItem(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (m *memUserRepo) SyncPurchasedItemsFromOrders(_ context.Context) (int64, error) {
	return 0, nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	createFn         func(ctx context.Context, identity *model.Identity) error
	created          []*model.Identity
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	m.created = append(m.created, identity)
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

type mockNotifier struct {
	sendFn func(ctx context.Context, to, resetURL string) error
	sent   []string
}

func (m *mockNotifier) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	m.sent = append(m.sent, resetURL)
	if m.sendFn != nil {
		return m.sendFn(ctx, to, resetURL)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ ResetNotifier = (*mockNotifier)(nil)

func newTestService(users *memUserRepo, idents *mockIdentityRepo, oauth OAuthProvider, notifier *mockNotifier, production bool) *Service {
	if idents == nil {
		idents = &mockIdentityRepo{}
	}
	if notifier == nil {
		notifier = &mockNotifier{}
	}
	return NewService(oauth, users, idents, NewTokenManager("test-secret", 7*24*time.Hour), notifier, ServiceConfig{
		ResetTokenTTL: time.Hour,
		ClientURL:     "http://localhost:3000",
		Production:    production,
	})
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestRegister_CreatesUserWithHashedPassword(t *testing.T) {
	users := newMemUserRepo()
	svc := newTestService(users, nil, nil, nil, false)

	user, err := svc.Register(context.Background(), "Alice", "  Alice@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalized address", user.Email)
	}
	if user.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", user.Role, model.RoleUser)
	}
	if user.PasswordHash == "secret1" || !CheckPassword(user.PasswordHash, "secret1") {
		t.Error("expected bcrypt hash of the password")
	}
}

func TestRegister_DuplicateEmail_ReturnsEmailTaken(t *testing.T) {
	users := newMemUserRepo()
	svc := newTestService(users, nil, nil, nil, false)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "secret1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	_, err := svc.Register(ctx, "Other", "ALICE@example.com", "secret2")
	assertAPIErrorCode(t, err, model.ErrCodeEmailTaken)
}

func TestRegister_ConcurrentInsert_MapsDuplicateToEmailTaken(t *testing.T) {
	users := newMemUserRepo()
	users.createFn = func(ctx context.Context, user *model.User) error {
		return repository.ErrDuplicate
	}
	svc := newTestService(users, nil, nil, nil, false)

	_, err := svc.Register(context.Background(), "Alice", "alice@example.com", "secret1")
	assertAPIErrorCode(t, err, model.ErrCodeEmailTaken)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name       string
		inName     string
		email      string
		password   string
		wantFields []string
	}{
		{name: "empty name", inName: " ", email: "a@example.com", password: "secret1", wantFields: []string{"name"}},
		{name: "invalid email", inName: "A", email: "not-an-email", password: "secret1", wantFields: []string{"email"}},
		{name: "display name email", inName: "A", email: "A <a@example.com>", password: "secret1", wantFields: []string{"email"}},
		{name: "short password", inName: "A", email: "a@example.com", password: "12345", wantFields: []string{"password"}},
		{name: "password over bcrypt limit", inName: "A", email: "a@example.com", password: strings.Repeat("a", 73), wantFields: []string{"password"}},
		{name: "all invalid", inName: "", email: "", password: "", wantFields: []string{"name", "email", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMemUserRepo(), nil, nil, nil, false)
			_, err := svc.Register(context.Background(), tt.inName, tt.email, tt.password)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
			if len(apiErr.Fields) != len(tt.wantFields) {
				t.Fatalf("fields = %+v, want %v", apiErr.Fields, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if apiErr.Fields[i].Field != f {
					t.Errorf("fields[%d] = %q, want %q", i, apiErr.Fields[i].Field, f)
				}
			}
		})
	}
}

func TestLogin(t *testing.T) {
	users := newMemUserRepo()
	svc := newTestService(users, nil, nil, nil, false)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	users.put(&model.User{ID: "google-only", Email: "g@example.com", Name: "G", Role: model.RoleUser})

	t.Run("success", func(t *testing.T) {
		token, user, err := svc.Login(ctx, "ALICE@example.com", "secret1")
		if err != nil {
			t.Fatalf("Login() error: %v", err)
		}
		if user.ID != registered.ID {
			t.Errorf("user.ID = %q, want %q", user.ID, registered.ID)
		}
		validated, err := svc.ValidateSession(ctx, token)
		if err != nil {
			t.Fatalf("ValidateSession() error: %v", err)
		}
		if validated.ID != registered.ID {
			t.Errorf("validated.ID = %q, want %q", validated.ID, registered.ID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice@example.com", "wrong-password")
		assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "secret1")
		assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
	})

	t.Run("external identity only", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "g@example.com", "anything")
		assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)

		var apiErr *model.APIError
		errors.As(err, &apiErr)
		if !strings.Contains(apiErr.Message, "Google") {
			t.Errorf("message = %q, want hint to sign in with Google", apiErr.Message)
		}
	})
}

func TestValidateSession_Failures(t *testing.T) {
	users := newMemUserRepo()
	svc := newTestService(users, nil, nil, nil, false)
	ctx := context.Background()

	t.Run("empty token", func(t *testing.T) {
		_, err := svc.ValidateSession(ctx, "")
		assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ValidateSession(ctx, "not.a.jwt")
		assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	})

	t.Run("user deleted", func(t *testing.T) {
		token, err := svc.IssueSession(&model.User{ID: "ghost", Role: model.RoleUser})
		if err != nil {
			t.Fatalf("IssueSession() error: %v", err)
		}
		_, err = svc.ValidateSession(ctx, token)
		assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	})
}

func TestLoginWithExternalIdentity_LinkedIdentity(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-1", Email: "alice@example.com", Name: "Alice", Role: model.RoleUser})
	idents := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			if provider == model.ProviderGoogle && providerUserID == "g-1" {
				return &model.Identity{ID: "i-1", UserID: "u-1", Provider: provider, ProviderUserID: providerUserID}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(users, idents, nil, nil, false)

	user, err := svc.LoginWithExternalIdentity(context.Background(), &OAuthUserInfo{
		ProviderUserID: "g-1", Email: "changed@example.com", Provider: model.ProviderGoogle,
	})
	if err != nil {
		t.Fatalf("LoginWithExternalIdentity() error: %v", err)
	}
	if user.ID != "u-1" {
		t.Errorf("user.ID = %q, want %q", user.ID, "u-1")
	}
	if len(idents.created) != 0 {
		t.Errorf("expected no new identity, got %d", len(idents.created))
	}
}

func TestLoginWithExternalIdentity_LinksExistingEmail(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-1", Email: "alice@example.com", Name: "Alice", PasswordHash: "hash", Role: model.RoleUser})
	idents := &mockIdentityRepo{}
	svc := newTestService(users, idents, nil, nil, false)

	user, err := svc.LoginWithExternalIdentity(context.Background(), &OAuthUserInfo{
		ProviderUserID: "g-1", Email: "Alice@Example.com", Provider: model.ProviderGoogle,
	})
	if err != nil {
		t.Fatalf("LoginWithExternalIdentity() error: %v", err)
	}
	if user.ID != "u-1" {
		t.Errorf("user.ID = %q, want existing user", user.ID)
	}
	if len(idents.created) != 1 || idents.created[0].UserID != "u-1" || idents.created[0].ProviderUserID != "g-1" {
		t.Errorf("created identities = %+v", idents.created)
	}
}

func TestLoginWithExternalIdentity_CreatesNewUser(t *testing.T) {
	users := newMemUserRepo()
	svc := newTestService(users, &mockIdentityRepo{}, nil, nil, false)

	user, err := svc.LoginWithExternalIdentity(context.Background(), &OAuthUserInfo{
		ProviderUserID: "g-2", Email: "new@example.com", Name: "New", Provider: model.ProviderGoogle,
	})
	if err != nil {
		t.Fatalf("LoginWithExternalIdentity() error: %v", err)
	}
	if user.HasPassword() {
		t.Error("expected new external user without password")
	}
	if user.Role != model.RoleUser {
		t.Errorf("Role = %q, want user", user.Role)
	}
	stored, _ := users.FindByEmail(context.Background(), "new@example.com")
	if stored == nil {
		t.Fatal("expected user to be persisted")
	}
}

func TestLoginWithExternalIdentity_EmailLinkedToOtherAccount(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-1", Email: "alice@example.com", Name: "Alice", Role: model.RoleUser})
	idents := &mockIdentityRepo{
		createFn: func(ctx context.Context, identity *model.Identity) error {
			return repository.ErrDuplicate
		},
	}
	svc := newTestService(users, idents, nil, nil, false)

	_, err := svc.LoginWithExternalIdentity(context.Background(), &OAuthUserInfo{
		ProviderUserID: "g-other", Email: "alice@example.com", Provider: model.ProviderGoogle,
	})
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

func TestLoginWithExternalIdentity_InvalidInfo(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-empty", Email: "", Name: "Empty", Role: model.RoleUser})

	tests := []struct {
		name      string
		info      *OAuthUserInfo
		wantField string
	}{
		{name: "nil info", info: nil, wantField: "identity"},
		{name: "missing subject", info: &OAuthUserInfo{Email: "a@example.com", Provider: model.ProviderGoogle}, wantField: "identity"},
		{name: "new user without email", info: &OAuthUserInfo{ProviderUserID: "x-1", Provider: "github"}, wantField: "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idents := &mockIdentityRepo{}
			svc := newTestService(users, idents, nil, nil, false)

			_, err := svc.LoginWithExternalIdentity(context.Background(), tt.info)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
			if len(apiErr.Fields) != 1 || apiErr.Fields[0].Field != tt.wantField {
				t.Errorf("fields = %+v, want %s", apiErr.Fields, tt.wantField)
			}
			if len(idents.created) != 0 {
				t.Errorf("expected no identity link, got %+v", idents.created)
			}
		})
	}
}

func TestLoginWithExternalIdentity_LinkedIdentityWithoutEmail(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-1", Email: "alice@example.com", Name: "Alice", Role: model.RoleUser})
	idents := &mockIdentityRepo{
		findByProviderFn: func(context.Context, string, string) (*model.Identity, error) {
			return &model.Identity{ID: "i-1", UserID: "u-1", Provider: "github", ProviderUserID: "x-1"}, nil
		},
	}
	svc := newTestService(users, idents, nil, nil, false)

	user, err := svc.LoginWithExternalIdentity(context.Background(), &OAuthUserInfo{ProviderUserID: "x-1", Provider: "github"})
	if err != nil {
		t.Fatalf("LoginWithExternalIdentity() error: %v", err)
	}
	if user.ID != "u-1" {
		t.Errorf("user.ID = %q, want u-1", user.ID)
	}
}

func TestHandleCallback_IssuesSession(t *testing.T) {
	users := newMemUserRepo()
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			if code != "auth-code" {
				t.Errorf("code = %q, want %q", code, "auth-code")
			}
			return &OAuthUserInfo{ProviderUserID: "g-3", Email: "cb@example.com", Name: "CB", Provider: model.ProviderGoogle}, nil
		},
	}
	svc := newTestService(users, &mockIdentityRepo{}, provider, nil, false)

	token, user, err := svc.HandleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error: %v", err)
	}
	if token == "" || user == nil {
		t.Fatal("expected token and user")
	}
}

func TestHandleCallback_ExchangeError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	svc := newTestService(newMemUserRepo(), nil, provider, nil, false)

	if _, _, err := svc.HandleCallback(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOAuthNotConfigured(t *testing.T) {
	svc := newTestService(newMemUserRepo(), nil, nil, nil, false)

	if svc.OAuthEnabled() {
		t.Error("OAuthEnabled() = true, want false")
	}
	if _, err := svc.GetLoginURL("state"); !errors.Is(err, ErrOAuthNotConfigured) {
		t.Errorf("GetLoginURL() error = %v, want ErrOAuthNotConfigured", err)
	}
	if _, _, err := svc.HandleCallback(context.Background(), "code"); !errors.Is(err, ErrOAuthNotConfigured) {
		t.Errorf("HandleCallback() error = %v, want ErrOAuthNotConfigured", err)
	}
}

func TestGetCurrentUser(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "u-1", Email: "a@example.com", Name: "A", Role: model.RoleUser})
	svc := newTestService(users, nil, nil, nil, false)

	user, err := svc.GetCurrentUser(context.Background(), "u-1")
	if err != nil || user.ID != "u-1" {
		t.Fatalf("GetCurrentUser() = %v, %v", user, err)
	}

	_, err = svc.GetCurrentUser(context.Background(), "missing")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// resetTokenFromURL はリセットURLからトークンを取り出す。
func resetTokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid reset URL %q: %v", raw, err)
	}
	return u.Query().Get("token")
}

func TestPasswordResetFlow(t *testing.T) {
	users := newMemUserRepo()
	notifier := &mockNotifier{}
	svc := newTestService(users, nil, nil, notifier, false)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(notifier.sent))
	}
	if !strings.HasPrefix(notifier.sent[0], "http://localhost:3000/reset-password?token=") {
		t.Errorf("reset URL = %q", notifier.sent[0])
	}
	token := resetTokenFromURL(t, notifier.sent[0])
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	stored, _ := users.FindByID(ctx, user.ID)
	if stored.ResetTokenHash == token || stored.ResetTokenHash != hashResetToken(token) {
		t.Error("expected only the SHA-256 hash of the token to be stored")
	}

	if err := svc.ResetPassword(ctx, token, "newsecret"); err != nil {
		t.Fatalf("ResetPassword() error: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "newsecret"); err != nil {
		t.Errorf("Login() with new password error: %v", err)
	}

	// 使用済みトークンは無効
	err = svc.ResetPassword(ctx, token, "another1")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidToken)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	users := newMemUserRepo()
	notifier := &mockNotifier{}
	svc := newTestService(users, nil, nil, notifier, false)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error: %v", err)
	}
	token := resetTokenFromURL(t, notifier.sent[0])

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	err = svc.ResetPassword(ctx, token, "newsecret")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidToken)

	stored, _ := users.FindByID(ctx, user.ID)
	if !CheckPassword(stored.PasswordHash, "secret1") {
		t.Error("password must not change on invalid token")
	}
}

// staleLookupRepo は検索結果を固定し、同じトークンで並行する再設定を再現する。
type staleLookupRepo struct {
	*memUserRepo
	snapshot *model.User
}

func (r *staleLookupRepo) FindByResetTokenHash(context.Context, string, time.Time) (*model.User, error) {
	c := *r.snapshot
	return &c, nil
}

func TestResetPassword_TokenConsumedConcurrently(t *testing.T) {
	users := newMemUserRepo()
	notifier := &mockNotifier{}
	setup := newTestService(users, nil, nil, notifier, false)
	ctx := context.Background()

	user, err := setup.Register(ctx, "Alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := setup.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error: %v", err)
	}
	token := resetTokenFromURL(t, notifier.sent[0])
	snapshot, _ := users.FindByID(ctx, user.ID)

	stale := &staleLookupRepo{memUserRepo: users, snapshot: snapshot}
	svc := NewService(nil, stale, &mockIdentityRepo{}, NewTokenManager("test-secret", time.Hour), notifier, ServiceConfig{
		ResetTokenTTL: time.Hour,
		ClientURL:     "http://localhost:3000",
	})

	if err := svc.ResetPassword(ctx, token, "first-pw"); err != nil {
		t.Fatalf("first ResetPassword() error: %v", err)
	}
	afterFirst, _ := users.FindByID(ctx, user.ID)

	// 検索は通ってもトークンは消費済み
	err = svc.ResetPassword(ctx, token, "second-pw")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidToken)

	stored, _ := users.FindByID(ctx, user.ID)
	if stored.PasswordHash != afterFirst.PasswordHash {
		t.Error("password hash must not change on second use of the token")
	}
	if !CheckPassword(stored.PasswordHash, "first-pw") {
		t.Error("expected the first reset to win")
	}
}

func TestResetPassword_PasswordTooLong(t *testing.T) {
	svc := newTestService(newMemUserRepo(), nil, nil, nil, false)

	err := svc.ResetPassword(context.Background(), "token", strings.Repeat("x", MaxPasswordBytes+1))
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
}

func TestRequestPasswordReset_UnknownOrPasswordless_Succeeds(t *testing.T) {
	users := newMemUserRepo()
	users.put(&model.User{ID: "g", Email: "g@example.com", Name: "G", Role: model.RoleUser})
	notifier := &mockNotifier{}
	svc := newTestService(users, nil, nil, notifier, true)
	ctx := context.Background()

	if err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Errorf("unknown email error = %v, want nil", err)
	}
	if err := svc.RequestPasswordReset(ctx, "g@example.com"); err != nil {
		t.Errorf("passwordless user error = %v, want nil", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(notifier.sent))
	}
}

func TestRequestPasswordReset_NotifierFailure(t *testing.T) {
	failing := func() *mockNotifier {
		return &mockNotifier{sendFn: func(ctx context.Context, to, resetURL string) error {
			return errors.New("smtp down")
		}}
	}

	t.Run("development keeps token and succeeds", func(t *testing.T) {
		users := newMemUserRepo()
		svc := newTestService(users, nil, nil, failing(), false)
		ctx := context.Background()
		user, _ := svc.Register(ctx, "A", "a@example.com", "secret1")

		if err := svc.RequestPasswordReset(ctx, "a@example.com"); err != nil {
			t.Fatalf("RequestPasswordReset() error = %v, want nil", err)
		}
		stored, _ := users.FindByID(ctx, user.ID)
		if stored.ResetTokenHash == "" {
			t.Error("expected reset token to remain usable in development")
		}
	})

	t.Run("production clears token and fails", func(t *testing.T) {
		users := newMemUserRepo()
		svc := newTestService(users, nil, nil, failing(), true)
		ctx := context.Background()
		user, _ := svc.Register(ctx, "A", "a@example.com", "secret1")

		err := svc.RequestPasswordReset(ctx, "a@example.com")
		assertAPIErrorCode(t, err, model.ErrCodeUpstreamFailure)

		stored, _ := users.FindByID(ctx, user.ID)
		if stored.ResetTokenHash != "" || stored.ResetTokenExpiresAt != nil {
			t.Error("expected reset token to be cleared in production")
		}
	})
}
