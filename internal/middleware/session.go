// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/vocabstore/internal/model"
)

// SessionCookieName はセッショントークンを格納するCookie名。
const SessionCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	roleContextKey   = contextKey("role")
)

// SessionValidator はセッショントークンの検証に必要なインターフェース。
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*model.User, error)
}

// NewSessionMiddleware はCookie "token" または Authorization: Bearer から
// セッショントークンを読み取り、検証するミドルウェアを返す。
// 認証済みユーザーのIDとロールをリクエストコンテキストに注入する。
// 未認証リクエストには401 UNAUTHENTICATEDを返す。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			user, err := validator.ValidateSession(r.Context(), token)
			if err != nil || user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			recordUserForLog(r.Context(), user.ID)
			ctx := ContextWithUser(r.Context(), user.ID, user.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminMiddleware は管理者ロールのユーザーのみを通すミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func NewAdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if RoleFromContext(r.Context()) != model.RoleAdmin {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError("Administrator access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Authorizationヘッダーを優先し、なければCookieを参照する。
func TokenFromRequest(r *http.Request) string {
	// Bearer以外のAuthorizationヘッダーはCookieにフォールバックする
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RoleFromContext はリクエストコンテキストからロールを取得する。
func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleContextKey).(model.Role)
	return role
}

// ContextWithUser はコンテキストにユーザーIDとロールを注入する。
func ContextWithUser(ctx context.Context, userID string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, roleContextKey, role)
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithUser(ctx, userID, model.RoleUser)
}
