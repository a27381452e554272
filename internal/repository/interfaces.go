// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/vocabstore/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// ErrReferenced は他のレコードから参照されているため削除できないことを表す。
var ErrReferenced = errors.New("record is referenced")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByResetTokenHash は有効期限内のリセットトークンハッシュでユーザーを取得する。
	// 見つからない場合や期限切れの場合はnilを返す。
	FindByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// ResetPasswordWithToken はリセットトークンが一致し有効期限内の場合に限り
	// パスワードハッシュを更新し、トークンを無効化する。更新した場合trueを返す。
	ResetPasswordWithToken(ctx context.Context, userID, tokenHash, passwordHash string, now time.Time) (bool, error)

	// SetResetToken はリセットトークンのハッシュと有効期限を保存する。
	// tokenHashが空の場合はトークンを削除する。
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) error

	// AddPurchasedItem は購入済み集合に商品を追加する。
	// 既に含まれている場合は何もせずfalseを返す。
	AddPurchasedItem(ctx context.Context, userID, itemID string) (bool, error)

	// SyncPurchasedItemsFromOrders は完了済み注文を購入済み集合に反映する。
	// 集合から要素を削除することはない。更新したユーザー数を返す。
	SyncPurchasedItemsFromOrders(ctx context.Context) (int64, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを紐付ける。
	// 同じ組み合わせが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// ItemRepository はカタログ商品の永続化インターフェース。
type ItemRepository interface {
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// List は商品一覧を作成日時の降順で返す。
	List(ctx context.Context) ([]*model.Item, error)

	// Create は商品を作成する。
	Create(ctx context.Context, item *model.Item) error

	// Update は商品を更新する。存在しない場合はfalseを返す。
	Update(ctx context.Context, item *model.Item) (bool, error)

	// Delete は商品を削除する。存在しない場合はfalseを返す。
	// 注文から参照されている場合はErrReferencedを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ListLanguages は登録済み商品の言語を重複なく昇順で返す。
	ListLanguages(ctx context.Context) ([]string, error)
}

// OrderRepository は注文台帳の永続化インターフェース。
type OrderRepository interface {
	// FindByPaymentIntentID は決済IDで注文を取得する。見つからない場合はnilを返す。
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Order, error)

	// CreateIfAbsent は注文を作成する。
	// 同じpayment_intent_idの注文が既に存在する場合は何もせずfalseを返す。
	CreateIfAbsent(ctx context.Context, order *model.Order) (bool, error)

	// ExistsCompleted はユーザーと商品の組み合わせで完了済み注文が存在するかを返す。
	ExistsCompleted(ctx context.Context, userID, itemID string) (bool, error)

	// ListByUserIDWithItem はユーザーの注文を商品情報付きで作成日時の降順に返す。
	ListByUserIDWithItem(ctx context.Context, userID string) ([]*model.OrderWithItem, error)
}
