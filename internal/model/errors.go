package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: auth, validation, catalog, payment, system
	Action   string       // ユーザー向け対処方法
	Fields   []FieldError // 入力検証エラーの詳細
}

// FieldError は入力項目ごとの検証エラーを表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeEmailTaken        = "EMAIL_TAKEN"
	ErrCodeAlreadyOwned      = "ALREADY_OWNED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeItemNotFound      = "ITEM_NOT_FOUND"
	ErrCodeItemInUse         = "ITEM_IN_USE"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodePaymentIncomplete = "PAYMENT_INCOMPLETE"
	ErrCodeInvalidSignature  = "INVALID_SIGNATURE"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeUpstreamFailure   = "UPSTREAM_FAILURE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(fields ...FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Fields:   fields,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewAlreadyOwnedError は購入済み商品を再購入しようとした場合のエラーを生成する。
func NewAlreadyOwnedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyOwned,
		Message:  "この商品は既に購入済みです。",
		Category: "payment",
		Action:   "購入履歴からダウンロードしてください。",
	}
}

// NewUnauthorizedError はログイン失敗エラーを生成する。
// reasonはユーザーに表示するメッセージ。
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  reason,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "アクセス権限を確認してください。",
	}
}

// NewItemNotFoundError は商品未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", itemID),
		Category: "catalog",
		Action:   "商品IDを確認してください。",
	}
}

// NewItemInUseError は注文から参照されている商品を削除しようとした場合のエラーを生成する。
func NewItemInUseError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemInUse,
		Message:  fmt.Sprintf("購入履歴のある商品は削除できません: %s", itemID),
		Category: "catalog",
		Action:   "商品情報の更新で対応してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPaymentIncompleteError は決済未完了エラーを生成する。
func NewPaymentIncompleteError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentIncomplete,
		Message:  "決済が完了していません。",
		Category: "payment",
		Action:   "決済を完了してから再度お試しください。",
	}
}

// NewInvalidSignatureError はWebhook署名検証エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "Webhookの署名が不正です。",
		Category: "payment",
		Action:   "Webhookシークレットの設定を確認してください。",
	}
}

// NewInvalidTokenError はパスワードリセットトークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "リセットトークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "パスワードリセットを再度リクエストしてください。",
	}
}

// NewUpstreamFailureError は外部サービス呼び出しの失敗エラーを生成する。
func NewUpstreamFailureError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("外部サービスとの通信に失敗しました: %s", service),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
