// Package auth はパスワード認証、Google OAuth認証、セッショントークン、
// パスワードリセットを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	// メールアドレスが検証済みでない場合はエラーを返す。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ResetNotifier はパスワードリセットリンクをユーザーに届けるインターフェース。
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// ErrOAuthNotConfigured はOAuthプロバイダーが未設定であることを表す。
var ErrOAuthNotConfigured = errors.New("oauth provider is not configured")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ResetTokenTTL time.Duration
	ClientURL     string // リセットリンクの生成に使用する
	Production    bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider // 未設定の場合はnil
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	tokens    *TokenManager
	notifier  ResetNotifier
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。oauthはnilを許容する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	tokens *TokenManager,
	notifier ResetNotifier,
	config ServiceConfig,
) *Service {
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &Service{
		oauth:     oauth,
		userRepo:  userRepo,
		identRepo: identRepo,
		tokens:    tokens,
		notifier:  notifier,
		config:    config,
		now:       time.Now,
	}
}

// OAuthEnabled はGoogleログインが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthNotConfigured
	}
	return s.oauth.GetLoginURL(state), nil
}

// Register はパスワードで新規ユーザーを登録する。
// メールアドレスが登録済みの場合はEMAIL_TAKENを返す。
func (s *Service) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	if apiErr := ValidateRegistration(name, email, password); apiErr != nil {
		return nil, apiErr
	}
	email = NormalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 同時登録で一意制約に違反した場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードで認証し、セッショントークンを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	if apiErr := ValidateLogin(email, password); apiErr != nil {
		return "", nil, apiErr
	}

	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", nil, model.NewUnauthorizedError("メールアドレスまたはパスワードが正しくありません。")
	}
	if !user.HasPassword() {
		return "", nil, model.NewUnauthorizedError("このアカウントはGoogleでログインしてください。")
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", nil, model.NewUnauthorizedError("メールアドレスまたはパスワードが正しくありません。")
	}

	token, err := s.IssueSession(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, *model.User, error) {
	if s.oauth == nil {
		return "", nil, ErrOAuthNotConfigured
	}

	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.LoginWithExternalIdentity(ctx, userInfo)
	if err != nil {
		return "", nil, err
	}

	token, err := s.IssueSession(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// LoginWithExternalIdentity は外部IdPのユーザー情報からユーザーを特定する。
// 1. (provider, provider_user_id) の紐付けが存在すればそのユーザー
// 2. 同じメールアドレスのユーザーが存在すれば紐付けを追加してそのユーザー
// 3. どちらもなければユーザーと紐付けを同一トランザクションで作成
func (s *Service) LoginWithExternalIdentity(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	if info == nil || info.Provider == "" || info.ProviderUserID == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "identity", Message: "外部IdPのユーザー情報が不正です。"})
	}

	user, err := s.resolveExternalIdentity(ctx, info)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// 新規作成にはメールアドレスが必須
	if strings.TrimSpace(info.Email) == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "email", Message: "外部IdPからメールアドレスを取得できませんでした。"})
	}

	now := s.now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     NormalizeEmail(info.Email),
		Name:      info.Name,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if newUser.Name == "" {
		newUser.Name = newUser.Email
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		// 同じユーザーの同時ログインで先に作成された場合は作成済みのユーザーを使う
		user, err := s.resolveExternalIdentity(ctx, info)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("failed to resolve user after concurrent create: %s", info.ProviderUserID)
		}
		return user, nil
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("provider", info.Provider),
	)
	return newUser, nil
}

// resolveExternalIdentity は既存ユーザーを紐付けまたはメールアドレスで特定する。
// 該当ユーザーがいない場合は(nil, nil)を返す。
func (s *Service) resolveExternalIdentity(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return user, nil
	}

	email := NormalizeEmail(info.Email)
	if email == "" {
		return nil, nil
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	link := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      s.now(),
	}
	if err := s.identRepo.Create(ctx, link); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		// 同時ログインで同じ紐付けが先に作成された場合のみ許容する
		existing, findErr := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find identity: %w", findErr)
		}
		if existing == nil || existing.UserID != user.ID {
			return nil, model.NewForbiddenError("このメールアドレスは別のGoogleアカウントに紐付いています。")
		}
		return user, nil
	}

	slog.Info("identity linked to existing user",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// IssueSession はユーザーのセッショントークンを発行する。
func (s *Service) IssueSession(user *model.User) (string, error) {
	return s.tokens.Issue(user)
}

// ValidateSession はセッショントークンを検証し、ユーザーを返す。
// トークンが不正な場合やユーザーが存在しない場合はUNAUTHENTICATEDを返す。
func (s *Service) ValidateSession(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewUnauthenticatedError()
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return user, nil
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// RequestPasswordReset はパスワードリセットリンクを送信する。
// メールアドレスの存在有無を漏らさないため、未登録やパスワード未設定でも成功を返す。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if !isValidEmail(email) {
		return model.NewValidationError(model.FieldError{Field: "email", Message: "有効なメールアドレスを入力してください。"})
	}

	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return nil
	}

	raw, hash, err := generateResetToken()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.config.ResetTokenTTL)
	if err := s.userRepo.SetResetToken(ctx, user.ID, hash, &expiresAt); err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}

	resetURL := s.config.ClientURL + "/reset-password?token=" + url.QueryEscape(raw)
	if err := s.notifier.SendPasswordReset(ctx, user.Email, resetURL); err != nil {
		if !s.config.Production {
			slog.Warn("failed to send password reset email, logging reset link instead",
				slog.String("user_id", user.ID),
				slog.String("reset_url", resetURL),
				slog.String("error", err.Error()),
			)
			return nil
		}

		slog.Error("failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if clearErr := s.userRepo.SetResetToken(ctx, user.ID, "", nil); clearErr != nil {
			slog.Error("failed to clear reset token",
				slog.String("user_id", user.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		return model.NewUpstreamFailureError("mail")
	}

	slog.Info("password reset requested", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword は有効なリセットトークンでパスワードを再設定する。
// トークンは1回限り有効で、成功時に無効化される。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if apiErr := ValidatePasswordReset(token, newPassword); apiErr != nil {
		return apiErr
	}

	tokenHash := hashResetToken(token)
	user, err := s.userRepo.FindByResetTokenHash(ctx, tokenHash, s.now())
	if err != nil {
		return fmt.Errorf("failed to find user by reset token: %w", err)
	}
	if user == nil {
		return model.NewInvalidTokenError()
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	// 検索後に別リクエストがトークンを消費した場合は更新されない
	updated, err := s.userRepo.ResetPasswordWithToken(ctx, user.ID, tokenHash, hash, s.now())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if !updated {
		return model.NewInvalidTokenError()
	}

	slog.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}
