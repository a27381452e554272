package model

import (
	"slices"
	"time"
)

// Role はユーザーの権限種別を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin はカタログを編集できる管理者。
	RoleAdmin Role = "admin"
)

// ProviderGoogle はGoogle IdPのprovider名。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// PurchasedItemIDsは購入済み商品IDの集合（entitlement set）で、ordersテーブルから再構築できる。
type User struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        string // 外部IdPのみで登録したユーザーは空
	Role                Role
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	PurchasedItemIDs    []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPassword はパスワードログインが可能かを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Owns は商品が購入済み集合に含まれているかを返す。
func (u *User) Owns(itemID string) bool {
	return slices.Contains(u.PurchasedItemIDs, itemID)
}

// IsAdmin は管理者かを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Identity は外部IdPとの紐付け情報を表す。
// 1ユーザーにつき1プロバイダ1件まで。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}
