// Package repository はデータ永続化のインターフェースと実装を定義する。
// 監視アカウントはメモリ、PostgreSQL、SQLiteのいずれかに保存する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// ErrDuplicate は所有者とハンドル名が同一の有効な監視アカウントが既に存在する場合に返される。
var ErrDuplicate = errors.New("有効な監視アカウントが既に存在します")

// AccountFilter は監視アカウント一覧の絞り込み条件。
type AccountFilter struct {
	// OwnerID が空でない場合、その所有者のアカウントと所有者なしのアカウントに絞り込む。
	OwnerID string
	// ActiveOnly が true の場合、有効なアカウントのみを返す。
	ActiveOnly bool
}

// matches はアカウントが絞り込み条件に一致するかを判定する。
func (f AccountFilter) matches(a *model.MonitoredAccount) bool {
	if f.ActiveOnly && !a.IsActive {
		return false
	}
	return f.OwnerID == "" || a.VisibleTo(f.OwnerID)
}

// AccountRepository は監視アカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.MonitoredAccount, error)

	// FindActiveByOwnerAndHandle は所有者が一致する有効なアカウントをハンドル名（大文字小文字を区別しない）で検索する。
	// ownerID が空の場合は所有者なしのアカウントを対象とする。見つからない場合はnilを返す。
	FindActiveByOwnerAndHandle(ctx context.Context, ownerID, handle string) (*model.MonitoredAccount, error)

	// List は条件に一致するアカウントを登録日時の昇順で返す。
	List(ctx context.Context, filter AccountFilter) ([]*model.MonitoredAccount, error)

	// Create はアカウントを作成する。一意制約に違反する場合は ErrDuplicate を返す。
	Create(ctx context.Context, account *model.MonitoredAccount) error

	// Update はアカウントの可変フィールド（有効フラグ、更新日時）を更新する。
	// 見つからない場合はfalseを返す。一意制約に違反する場合は ErrDuplicate を返す。
	Update(ctx context.Context, account *model.MonitoredAccount) (bool, error)

	// Delete は指定IDのアカウントを削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// TouchLastFetched はハンドル名が一致する有効なアカウント全ての最終取得日時を更新し、更新件数を返す。
	TouchLastFetched(ctx context.Context, handle string, at time.Time) (int, error)

	// Count は条件に一致するアカウントの件数を集計する。ActiveOnly は無視する。
	Count(ctx context.Context, filter AccountFilter) (model.AccountCounts, error)
}
