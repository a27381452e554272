package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vocabstore/internal/model"
)

const itemColumns = `id, title, language, price, description, cover_image_url, pdf_file_url, created_at, updated_at`

// PostgresItemRepo はPostgreSQLを使用したカタログ商品リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	err := row.Scan(
		&item.ID, &item.Title, &item.Language, &item.Price, &item.Description,
		&item.CoverImageURL, &item.PDFFileURL, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item by ID: %w", err)
	}
	return item, nil
}

// List は商品一覧を作成日時の降順で返す。
func (r *PostgresItemRepo) List(ctx context.Context) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// Create は商品を作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.Title, item.Language, item.Price, item.Description,
		item.CoverImageURL, item.PDFFileURL, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Update は商品を更新する。存在しない場合はfalseを返す。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items
		 SET title = $2, language = $3, price = $4, description = $5,
		     cover_image_url = $6, pdf_file_url = $7, updated_at = $8
		 WHERE id = $1`,
		item.ID, item.Title, item.Language, item.Price, item.Description,
		item.CoverImageURL, item.PDFFileURL, item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete は商品を削除する。存在しない場合はfalseを返す。
// 注文から参照されている場合はErrReferencedを返す。
func (r *PostgresItemRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrReferenced
		}
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListLanguages は登録済み商品の言語を重複なく昇順で返す。
func (r *PostgresItemRepo) ListLanguages(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT language FROM items ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	defer rows.Close()

	var languages []string
	for rows.Next() {
		var language string
		if err := rows.Scan(&language); err != nil {
			return nil, fmt.Errorf("failed to scan language: %w", err)
		}
		languages = append(languages, language)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate languages: %w", err)
	}
	return languages, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
