// Package memrepo はrepositoryインターフェースのメモリ上の実装を提供する。
// サービス層やハンドラーのテストでPostgreSQLの代わりに使う。
// 一意制約やON CONFLICTの振る舞いはPostgreSQL実装に合わせている。
package memrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/vocabstore/internal/model"
	"github.com/hitoshi/vocabstore/internal/repository"
)

// Store は全リポジトリで共有するメモリ上のデータ。
type Store struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities []*model.Identity
	items      map[string]*model.Item
	orders     []*model.Order

	// FailAddPurchasedItem がnil以外の場合、AddPurchasedItemはこのエラーを返す。
	FailAddPurchasedItem error
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users: map[string]*model.User{},
		items: map[string]*model.Item{},
	}
}

// Users はUserRepositoryを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Identities はIdentityRepositoryを返す。
func (s *Store) Identities() *IdentityRepo { return &IdentityRepo{s: s} }

// Items はItemRepositoryを返す。
func (s *Store) Items() *ItemRepo { return &ItemRepo{s: s} }

// Orders はOrderRepositoryを返す。
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

// OrderCount は台帳の注文数を返す。
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// PurchasedItemIDs はユーザーの購入済み集合のコピーを返す。
func (s *Store) PurchasedItemIDs(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	return slices.Clone(u.PurchasedItemIDs)
}

// SetPurchasedItemIDs は購入済み集合を直接書き換える。台帳との不整合を再現するために使う。
func (s *Store) SetPurchasedItemIDs(userID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.PurchasedItemIDs = slices.Clone(ids)
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.PurchasedItemIDs = slices.Clone(u.PurchasedItemIDs)
	return &c
}

// UserRepo はメモリ上のUserRepository。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) FindByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if tokenHash != "" && u.ResetTokenHash == tokenHash &&
			u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.createLocked(user)
}

func (r *UserRepo) createLocked(user *model.User) error {
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	c := cloneUser(user)
	if c.Role == "" {
		c.Role = model.RoleUser
	}
	if c.PurchasedItemIDs == nil {
		c.PurchasedItemIDs = []string{}
	}
	r.s.users[user.ID] = c
	return nil
}

func (r *UserRepo) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.identityConflictLocked(identity) {
		return repository.ErrDuplicate
	}
	if err := r.createLocked(user); err != nil {
		return err
	}
	c := *identity
	r.s.identities = append(r.s.identities, &c)
	return nil
}

func (r *UserRepo) ResetPasswordWithToken(_ context.Context, userID, tokenHash, passwordHash string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok || tokenHash == "" || u.ResetTokenHash != tokenHash || u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
		return false, nil
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = nil
	return true, nil
}

func (r *UserRepo) SetResetToken(_ context.Context, userID, tokenHash string, expiresAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[userID]; ok {
		u.ResetTokenHash = tokenHash
		u.ResetTokenExpiresAt = expiresAt
		if tokenHash == "" {
			u.ResetTokenExpiresAt = nil
		}
	}
	return nil
}

func (r *UserRepo) AddPurchasedItem(_ context.Context, userID, itemID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailAddPurchasedItem != nil {
		return false, r.s.FailAddPurchasedItem
	}
	u, ok := r.s.users[userID]
	if !ok || slices.Contains(u.PurchasedItemIDs, itemID) {
		return false, nil
	}
	u.PurchasedItemIDs = append(u.PurchasedItemIDs, itemID)
	return true, nil
}

func (r *UserRepo) SyncPurchasedItemsFromOrders(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := map[string]bool{}
	for _, o := range r.s.orders {
		if o.Status != model.OrderStatusCompleted {
			continue
		}
		u, ok := r.s.users[o.UserID]
		if !ok || slices.Contains(u.PurchasedItemIDs, o.ItemID) {
			continue
		}
		u.PurchasedItemIDs = append(u.PurchasedItemIDs, o.ItemID)
		updated[u.ID] = true
	}
	return int64(len(updated)), nil
}

// IdentityRepo はメモリ上のIdentityRepository。
type IdentityRepo struct{ s *Store }

func (s *Store) identityConflictLocked(identity *model.Identity) bool {
	for _, i := range s.identities {
		if i.Provider == identity.Provider &&
			(i.ProviderUserID == identity.ProviderUserID || i.UserID == identity.UserID) {
			return true
		}
	}
	return false
}

func (r *IdentityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.identities {
		if i.Provider == provider && i.ProviderUserID == providerUserID {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r *IdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.identityConflictLocked(identity) {
		return repository.ErrDuplicate
	}
	c := *identity
	r.s.identities = append(r.s.identities, &c)
	return nil
}

// ItemRepo はメモリ上のItemRepository。
type ItemRepo struct{ s *Store }

func (r *ItemRepo) FindByID(_ context.Context, id string) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok {
		c := *it
		return &c, nil
	}
	return nil, nil
}

func (r *ItemRepo) List(_ context.Context) ([]*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*model.Item, 0, len(r.s.items))
	for _, it := range r.s.items {
		c := *it
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (r *ItemRepo) Create(_ context.Context, item *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *item
	r.s.items[item.ID] = &c
	return nil
}

func (r *ItemRepo) Update(_ context.Context, item *model.Item) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.items[item.ID]
	if !ok {
		return false, nil
	}
	c := *item
	c.CreatedAt = existing.CreatedAt
	r.s.items[item.ID] = &c
	return true, nil
}

// Delete は注文から参照されている商品を削除せずErrReferencedを返す。
func (r *ItemRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[id]; !ok {
		return false, nil
	}
	for _, o := range r.s.orders {
		if o.ItemID == id {
			return false, repository.ErrReferenced
		}
	}
	delete(r.s.items, id)
	return true, nil
}

func (r *ItemRepo) ListLanguages(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var languages []string
	for _, it := range r.s.items {
		if !slices.Contains(languages, it.Language) {
			languages = append(languages, it.Language)
		}
	}
	slices.Sort(languages)
	return languages, nil
}

// OrderRepo はメモリ上のOrderRepository。
type OrderRepo struct{ s *Store }

func (r *OrderRepo) FindByPaymentIntentID(_ context.Context, paymentIntentID string) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentIntentID == paymentIntentID {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (r *OrderRepo) CreateIfAbsent(_ context.Context, order *model.Order) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentIntentID == order.PaymentIntentID {
			return false, nil
		}
	}
	c := *order
	r.s.orders = append(r.s.orders, &c)
	return true, nil
}

func (r *OrderRepo) ExistsCompleted(_ context.Context, userID, itemID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.UserID == userID && o.ItemID == itemID && o.Status == model.OrderStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *OrderRepo) ListByUserIDWithItem(_ context.Context, userID string) ([]*model.OrderWithItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.OrderWithItem
	for _, o := range r.s.orders {
		if o.UserID != userID {
			continue
		}
		ow := &model.OrderWithItem{Order: *o}
		if it, ok := r.s.items[o.ItemID]; ok {
			ow.ItemTitle = it.Title
			ow.ItemLanguage = it.Language
			ow.ItemPrice = it.Price
			ow.ItemCoverImageURL = it.CoverImageURL
		}
		result = append(result, ow)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// compile-time interface checks
var (
	_ repository.UserRepository     = (*UserRepo)(nil)
	_ repository.IdentityRepository = (*IdentityRepo)(nil)
	_ repository.ItemRepository     = (*ItemRepo)(nil)
	_ repository.OrderRepository    = (*OrderRepo)(nil)
)
