package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/vocabstore/internal/model"
)

const userColumns = `id, email, name, password_hash, role, reset_token_hash, reset_token_expires_at,
	purchased_item_ids, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var passwordHash, resetTokenHash sql.NullString
	var resetExpiresAt sql.NullTime
	var role string
	var purchased pq.StringArray

	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &passwordHash, &role, &resetTokenHash, &resetExpiresAt,
		&purchased, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.PasswordHash = passwordHash.String
	user.Role = model.Role(role)
	user.ResetTokenHash = resetTokenHash.String
	if resetExpiresAt.Valid {
		t := resetExpiresAt.Time
		user.ResetTokenExpiresAt = &t
	}
	user.PurchasedItemIDs = []string(purchased)
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, args ...any) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByResetTokenHash は有効期限内のリセットトークンハッシュでユーザーを取得する。
func (r *PostgresUserRepo) FindByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error) {
	user, err := r.findOne(ctx, `reset_token_hash = $1 AND reset_token_expires_at > $2`, tokenHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by reset token: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, nullString(user.PasswordHash), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, nullString(user.PasswordHash), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// identityを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ResetPasswordWithToken はトークンを消費してパスワードを更新する。
// 同じトークンでの同時リクエストは1件のみが成功する。
func (r *PostgresUserRepo) ResetPasswordWithToken(ctx context.Context, userID, tokenHash, passwordHash string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND reset_token_hash = $3 AND reset_token_expires_at > $4`,
		userID, passwordHash, tokenHash, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// SetResetToken はリセットトークンのハッシュと有効期限を保存する。
func (r *PostgresUserRepo) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now() WHERE id = $1`,
		userID, nullString(tokenHash), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	return nil
}

// AddPurchasedItem は購入済み集合に商品を追加する。
// 条件付きUPDATEのため、同時に呼ばれても重複して追加されない。
func (r *PostgresUserRepo) AddPurchasedItem(ctx context.Context, userID, itemID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET purchased_item_ids = array_append(purchased_item_ids, $2::uuid), updated_at = now()
		 WHERE id = $1 AND NOT ($2::uuid = ANY(purchased_item_ids))`,
		userID, itemID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add purchased item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SyncPurchasedItemsFromOrders は完了済み注文を購入済み集合に反映する。
func (r *PostgresUserRepo) SyncPurchasedItemsFromOrders(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users u
		 SET purchased_item_ids = ARRAY(
		       SELECT DISTINCT x FROM unnest(u.purchased_item_ids || o.item_ids) AS x
		     ),
		     updated_at = now()
		 FROM (
		   SELECT user_id, array_agg(DISTINCT item_id) AS item_ids
		   FROM orders
		   WHERE status = 'completed'
		   GROUP BY user_id
		 ) o
		 WHERE u.id = o.user_id AND NOT (o.item_ids <@ u.purchased_item_ids)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sync purchased items: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
