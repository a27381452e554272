package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/vocabstore/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// MaxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const MaxPasswordBytes = 72

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを返す。
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeEmail はメールアドレスを小文字化し前後の空白を除去する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateResetToken はパスワードリセット用のトークンを生成する。
// 生のトークンはメールで送り、SHA-256ハッシュのみを保存する。
func generateResetToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	raw = hex.EncodeToString(b)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidateRegistration は登録入力を検証する。問題がなければnilを返す。
func ValidateRegistration(name, email, password string) *model.APIError {
	var fields []model.FieldError
	if strings.TrimSpace(name) == "" {
		fields = append(fields, model.FieldError{Field: "name", Message: "名前を入力してください。"})
	}
	if !isValidEmail(email) {
		fields = append(fields, model.FieldError{Field: "email", Message: "有効なメールアドレスを入力してください。"})
	}
	if fe, ok := checkPasswordLength(password); !ok {
		fields = append(fields, fe)
	}
	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}

// ValidateLogin はログイン入力を検証する。
func ValidateLogin(email, password string) *model.APIError {
	var fields []model.FieldError
	if !isValidEmail(email) {
		fields = append(fields, model.FieldError{Field: "email", Message: "有効なメールアドレスを入力してください。"})
	}
	if password == "" {
		fields = append(fields, model.FieldError{Field: "password", Message: "パスワードを入力してください。"})
	}
	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}

// ValidatePasswordReset はパスワード再設定の入力を検証する。
func ValidatePasswordReset(token, password string) *model.APIError {
	var fields []model.FieldError
	if strings.TrimSpace(token) == "" {
		fields = append(fields, model.FieldError{Field: "token", Message: "リセットトークンが必要です。"})
	}
	if fe, ok := checkPasswordLength(password); !ok {
		fields = append(fields, fe)
	}
	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}

func checkPasswordLength(password string) (model.FieldError, bool) {
	switch {
	case len(password) < MinPasswordLength:
		return model.FieldError{
			Field:   "password",
			Message: fmt.Sprintf("パスワードは%d文字以上で入力してください。", MinPasswordLength),
		}, false
	case len(password) > MaxPasswordBytes:
		return model.FieldError{
			Field:   "password",
			Message: fmt.Sprintf("パスワードは%dバイト以内で入力してください。", MaxPasswordBytes),
		}, false
	}
	return model.FieldError{}, true
}

// isValidEmail は表示名なしの単一アドレスのみを受け付ける。
func isValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".")
}
