package model

import "time"

// MonitoredAccount はユーザー（プリンシパル）によるProfileの監視登録を表す。
type MonitoredAccount struct {
	ID            string        `json:"id"`
	Handle        string        `json:"username"`
	DisplayName   string        `json:"name"`
	AvatarURL     string        `json:"profile_image_url,omitempty"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastFetchedAt *time.Time    `json:"last_fetched_at,omitempty"`
	OwnerID       string        `json:"user_id,omitempty"`
	Status        AccountStatus `json:"status"`
}

// AccountStatus は監視アカウントの表示用状態。保存せず読み取りごとに導出する。
type AccountStatus string

const (
	// AccountStatusActive は有効かつ直近に取得成功している状態。
	AccountStatusActive AccountStatus = "active"
	// AccountStatusStale は有効だが最終取得が古い、または未取得の状態。
	AccountStatusStale AccountStatus = "stale"
	// AccountStatusInactive は無効化された状態。
	AccountStatusInactive AccountStatus = "inactive"
)

// DeriveStatus は現在時刻と鮮度の閾値から状態を導出する。
func (a *MonitoredAccount) DeriveStatus(now time.Time, staleAfter time.Duration) AccountStatus {
	if !a.IsActive {
		return AccountStatusInactive
	}
	if a.LastFetchedAt == nil || now.Sub(*a.LastFetchedAt) > staleAfter {
		return AccountStatusStale
	}
	return AccountStatusActive
}

// VisibleTo はアカウントが指定プリンシパルから参照可能かを判定する。
// 所有者なしのアカウントは全員から参照できる。
func (a *MonitoredAccount) VisibleTo(ownerID string) bool {
	return a.OwnerID == "" || a.OwnerID == ownerID
}

// Clone はMonitoredAccountのディープコピーを返す。
func (a *MonitoredAccount) Clone() *MonitoredAccount {
	if a == nil {
		return nil
	}
	cp := *a
	if a.LastFetchedAt != nil {
		t := *a.LastFetchedAt
		cp.LastFetchedAt = &t
	}
	return &cp
}

// AccountUpdate は監視アカウントの更新リクエスト。
// 全フィールドは任意だが、少なくとも1つは指定が必要。
type AccountUpdate struct {
	IsActive *bool `json:"is_active"`
}

// Empty は更新可能なフィールドが1つも指定されていないかを判定する。
func (u AccountUpdate) Empty() bool {
	return u.IsActive == nil
}

// AccountCounts は監視アカウントの件数集計。
type AccountCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}
