// Package catalog は販売する単語帳PDFのカタログを提供する。
// 読み取りはgo-cacheによるリードスルーキャッシュを通し、管理者の更新時に無効化する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/repository"
	"github.com/hitoshi/vocabstore/internal/security"
)

const (
	listCacheKey      = "items:all"
	languagesCacheKey = "items:languages"
	itemCachePrefix   = "item:"

	maxTitleLength    = 200
	maxLanguageLength = 50
)

// URLValidator はアセットURLの静的検証を行う。
type URLValidator interface {
	Validate(rawURL string) error
}

// ItemInput は商品の作成・更新の入力。
type ItemInput struct {
	Title         string
	Language      string
	Price         *decimal.Decimal
	Description   string
	CoverImageURL string
	PDFFileURL    string
}

// Service はカタログのビジネスロジックを提供する。
type Service struct {
	repo      repository.ItemRepository
	sanitizer security.DescriptionSanitizer
	urls      URLValidator
	cache     *gocache.Cache
	now       func() time.Time
}

// NewService はServiceを生成する。cacheTTLが0以下の場合はキャッシュしない。
func NewService(repo repository.ItemRepository, sanitizer security.DescriptionSanitizer, urls URLValidator, cacheTTL time.Duration) *Service {
	s := &Service{
		repo:      repo,
		sanitizer: sanitizer,
		urls:      urls,
		now:       time.Now,
	}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// List は商品一覧を新しい順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Item, error) {
	if cached, ok := s.cacheGet(listCacheKey); ok {
		return cached.([]*model.Item), nil
	}

	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if items == nil {
		items = []*model.Item{}
	}
	s.cacheSet(listCacheKey, items)
	return items, nil
}

// Get は商品を1件返す。存在しない場合はITEM_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewItemNotFoundError(id)
	}
	if cached, ok := s.cacheGet(itemCachePrefix + id); ok {
		return cached.(*model.Item), nil
	}

	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(id)
	}
	s.cacheSet(itemCachePrefix+id, item)
	return item, nil
}

// Create は商品を作成する。
func (s *Service) Create(ctx context.Context, input ItemInput) (*model.Item, error) {
	if apiErr := s.validate(input); apiErr != nil {
		return nil, apiErr
	}

	now := s.now()
	item := &model.Item{
		ID:            uuid.New().String(),
		Title:         strings.TrimSpace(input.Title),
		Language:      strings.TrimSpace(input.Language),
		Price:         input.Price.Round(2),
		Description:   s.sanitizer.Sanitize(input.Description),
		CoverImageURL: strings.TrimSpace(input.CoverImageURL),
		PDFFileURL:    strings.TrimSpace(input.PDFFileURL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	s.invalidate(item.ID)

	slog.Info("catalog item created",
		slog.String("item_id", item.ID),
		slog.String("price", item.Price.StringFixed(2)),
	)
	return item, nil
}

// Update は商品を置き換える。存在しない場合はITEM_NOT_FOUNDを返す。
func (s *Service) Update(ctx context.Context, id string, input ItemInput) (*model.Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewItemNotFoundError(id)
	}
	if apiErr := s.validate(input); apiErr != nil {
		return nil, apiErr
	}

	item := &model.Item{
		ID:            id,
		Title:         strings.TrimSpace(input.Title),
		Language:      strings.TrimSpace(input.Language),
		Price:         input.Price.Round(2),
		Description:   s.sanitizer.Sanitize(input.Description),
		CoverImageURL: strings.TrimSpace(input.CoverImageURL),
		PDFFileURL:    strings.TrimSpace(input.PDFFileURL),
		UpdatedAt:     s.now(),
	}
	found, err := s.repo.Update(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if !found {
		return nil, model.NewItemNotFoundError(id)
	}
	s.invalidate(id)

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	if updated == nil {
		return nil, model.NewItemNotFoundError(id)
	}

	slog.Info("catalog item updated", slog.String("item_id", id))
	return updated, nil
}

// Delete は商品を削除する。存在しない場合はITEM_NOT_FOUND、
// 注文から参照されている場合はITEM_IN_USEを返す。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewItemNotFoundError(id)
	}

	found, err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrReferenced) {
		return model.NewItemInUseError(id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if !found {
		return model.NewItemNotFoundError(id)
	}
	s.invalidate(id)

	slog.Info("catalog item deleted", slog.String("item_id", id))
	return nil
}

// Languages は登録済み商品の言語一覧を返す。
func (s *Service) Languages(ctx context.Context) ([]string, error) {
	if cached, ok := s.cacheGet(languagesCacheKey); ok {
		return cached.([]string), nil
	}

	languages, err := s.repo.ListLanguages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	if languages == nil {
		languages = []string{}
	}
	s.cacheSet(languagesCacheKey, languages)
	return languages, nil
}

func (s *Service) validate(input ItemInput) *model.APIError {
	var fields []model.FieldError

	title := strings.TrimSpace(input.Title)
	switch {
	case title == "":
		fields = append(fields, model.FieldError{Field: "title", Message: "title is required"})
	case len(title) > maxTitleLength:
		fields = append(fields, model.FieldError{Field: "title", Message: fmt.Sprintf("title must be at most %d characters", maxTitleLength)})
	}

	language := strings.TrimSpace(input.Language)
	switch {
	case language == "":
		fields = append(fields, model.FieldError{Field: "language", Message: "language is required"})
	case len(language) > maxLanguageLength:
		fields = append(fields, model.FieldError{Field: "language", Message: fmt.Sprintf("language must be at most %d characters", maxLanguageLength)})
	}

	switch {
	case input.Price == nil:
		fields = append(fields, model.FieldError{Field: "price", Message: "price is required"})
	case input.Price.IsNegative():
		fields = append(fields, model.FieldError{Field: "price", Message: "price must not be negative"})
	case input.Price.Exponent() < -2 && !input.Price.Equal(input.Price.Round(2)):
		fields = append(fields, model.FieldError{Field: "price", Message: "price must have at most 2 decimal places"})
	}

	if err := s.urls.Validate(strings.TrimSpace(input.PDFFileURL)); err != nil {
		fields = append(fields, model.FieldError{Field: "pdfFileUrl", Message: "pdfFileUrl must be a public https url"})
	}
	if cover := strings.TrimSpace(input.CoverImageURL); cover != "" {
		if err := s.urls.Validate(cover); err != nil {
			fields = append(fields, model.FieldError{Field: "coverImageUrl", Message: "coverImageUrl must be a public https url"})
		}
	}

	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}

func (s *Service) cacheGet(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) cacheSet(key string, value any) {
	if s.cache == nil {
		return
	}
	s.cache.Set(key, value, gocache.DefaultExpiration)
}

func (s *Service) invalidate(id string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(listCacheKey)
	s.cache.Delete(languagesCacheKey)
	s.cache.Delete(itemCachePrefix + id)
}
