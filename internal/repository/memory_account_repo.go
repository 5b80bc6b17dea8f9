package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// MemoryAccountRepo はプロセス内メモリに監視アカウントを保持するリポジトリ。
// 再起動で内容は失われる。返却値は全て複製する。
type MemoryAccountRepo struct {
	mu       sync.RWMutex
	accounts map[string]*model.MonitoredAccount
}

// NewMemoryAccountRepo はMemoryAccountRepoを生成する。
func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{accounts: make(map[string]*model.MonitoredAccount)}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, id string) (*model.MonitoredAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts[id].Clone(), nil
}

// FindActiveByOwnerAndHandle は所有者とハンドル名が一致する有効なアカウントを返す。
func (r *MemoryAccountRepo) FindActiveByOwnerAndHandle(_ context.Context, ownerID, handle string) (*model.MonitoredAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findActive("", ownerID, handle).Clone(), nil
}

// List は条件に一致するアカウントを登録日時の昇順で返す。
func (r *MemoryAccountRepo) List(_ context.Context, filter AccountFilter) ([]*model.MonitoredAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.MonitoredAccount
	for _, a := range r.accounts {
		if filter.matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create はアカウントを作成する。
func (r *MemoryAccountRepo) Create(_ context.Context, account *model.MonitoredAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.IsActive && r.findActive("", account.OwnerID, account.Handle) != nil {
		return ErrDuplicate
	}
	r.accounts[account.ID] = account.Clone()
	return nil
}

// Update はアカウントの有効フラグと更新日時を更新する。
func (r *MemoryAccountRepo) Update(_ context.Context, account *model.MonitoredAccount) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.accounts[account.ID]
	if !ok {
		return false, nil
	}
	if account.IsActive && !cur.IsActive && r.findActive(cur.ID, cur.OwnerID, cur.Handle) != nil {
		return false, ErrDuplicate
	}
	cur.IsActive = account.IsActive
	cur.UpdatedAt = account.UpdatedAt
	return true, nil
}

// Delete は指定IDのアカウントを削除する。
func (r *MemoryAccountRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return false, nil
	}
	delete(r.accounts, id)
	return true, nil
}

// TouchLastFetched はハンドル名が一致する有効なアカウントの最終取得日時を更新する。
func (r *MemoryAccountRepo) TouchLastFetched(_ context.Context, handle string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := model.HandleKey(handle)
	n := 0
	for _, a := range r.accounts {
		if a.IsActive && model.HandleKey(a.Handle) == key {
			t := at
			a.LastFetchedAt = &t
			n++
		}
	}
	return n, nil
}

// Count は条件に一致するアカウントの件数を集計する。
func (r *MemoryAccountRepo) Count(_ context.Context, filter AccountFilter) (model.AccountCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter.ActiveOnly = false
	var c model.AccountCounts
	for _, a := range r.accounts {
		if !filter.matches(a) {
			continue
		}
		c.Total++
		if a.IsActive {
			c.Active++
		}
	}
	return c, nil
}

// findActive は exceptID 以外で所有者とハンドル名が一致する有効なアカウントを返す。呼び出し側でロックを保持すること。
func (r *MemoryAccountRepo) findActive(exceptID, ownerID, handle string) *model.MonitoredAccount {
	key := model.HandleKey(handle)
	for id, a := range r.accounts {
		if id != exceptID && a.IsActive && a.OwnerID == ownerID && model.HandleKey(a.Handle) == key {
			return a
		}
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*MemoryAccountRepo)(nil)
