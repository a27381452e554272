// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/vocabstore/internal/auth"
	"github.com/hitoshi/vocabstore/internal/middleware"
	"github.com/hitoshi/vocabstore/internal/model"
)

const oauthStateCookie = "oauth_state"

// resetRequestedMessage はメールアドレスの登録有無に関わらず返すメッセージ。
const resetRequestedMessage = "該当するアカウントが存在する場合、パスワード再設定用のリンクを送信しました。"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	OAuthEnabled() bool
	GetLoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (string, *model.User, error)
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (string, *model.User, error)
	IssueSession(user *model.User) (string, error)
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientURL     string // OAuth完了後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// userResponse はクライアントに返すユーザー情報。パスワードハッシュ等は含めない。
type userResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	PurchasedPDFs []string `json:"purchasedPdfs"`
}

type sessionResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
	Token   string       `json:"token"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

func toUserResponse(u *model.User) userResponse {
	purchased := u.PurchasedItemIDs
	if purchased == nil {
		purchased = []string{}
	}
	return userResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          string(u.Role),
		PurchasedPDFs: purchased,
	}
}

// Register はパスワードでの新規登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	token, err := h.service.IssueSession(user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Message: "登録が完了しました。",
		User:    toUserResponse(user),
		Token:   token,
	})
}

// Login はメールアドレスとパスワードでのログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "ログインしました。",
		User:    toUserResponse(user),
		Token:   token,
	})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /api/auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		if errors.Is(err, auth.ErrOAuthNotConfigured) {
			h.redirectToLoginError(w, r, "oauth_not_configured")
			return
		}
		slog.Error("failed to build oauth login url", slog.String("error", err.Error()))
		h.redirectToLoginError(w, r, "oauth_failed")
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. 未設定の場合はログイン画面に戻す
	if !h.service.OAuthEnabled() {
		h.redirectToLoginError(w, r, "oauth_not_configured")
		return
	}

	// 2. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.redirectToLoginError(w, r, "oauth_failed")
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 3. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectToLoginError(w, r, "oauth_failed")
		return
	}

	// 4. 認証処理
	token, user, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectToLoginError(w, r, "oauth_failed")
		return
	}

	slog.Info("oauth login succeeded", slog.String("user_id", user.ID))

	// 5. セッションCookieを設定し、フロントエンドにトークンを渡す
	h.setSessionCookie(w, token)
	target := h.config.ClientURL + "/auth/google/callback?token=" + url.QueryEscape(token)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

// Logout はセッションCookieを削除する。トークンはステートレスのためサーバー側の状態はない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// ForgotPassword はパスワード再設定リンクの送信を受け付ける。
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: resetRequestedMessage})
}

// ResetPassword はリセットトークンでパスワードを再設定する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "パスワードを再設定しました。新しいパスワードでログインしてください。"})
}

// setSessionCookie はセッショントークンをHttpOnly Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) redirectToLoginError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, h.config.ClientURL+"/login?error="+reason, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
