package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/socialwatch/internal/model"
)

// sqliteTimeLayout は文字列比較で時刻順に並ぶ固定長の書式。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteAccountRepo はSQLiteを使用した監視アカウントリポジトリ。
// スキーマは database.OpenSQLite が適用する。
type SQLiteAccountRepo struct {
	db *sql.DB
}

// NewSQLiteAccountRepo はSQLiteAccountRepoを生成する。
func NewSQLiteAccountRepo(db *sql.DB) *SQLiteAccountRepo {
	return &SQLiteAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *SQLiteAccountRepo) FindByID(ctx context.Context, id string) (*model.MonitoredAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts WHERE id = ?`, id,
	)
	a, err := scanSQLiteAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視アカウントの取得に失敗しました: %w", err)
	}
	return a, nil
}

// FindActiveByOwnerAndHandle は所有者とハンドル名が一致する有効なアカウントを返す。
func (r *SQLiteAccountRepo) FindActiveByOwnerAndHandle(ctx context.Context, ownerID, handle string) (*model.MonitoredAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts
		 WHERE is_active = 1 AND IFNULL(owner_id, '') = ? AND LOWER(handle) = LOWER(?)`,
		ownerID, handle,
	)
	a, err := scanSQLiteAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("所有者とハンドル名による監視アカウントの検索に失敗しました: %w", err)
	}
	return a, nil
}

// List は条件に一致するアカウントを登録日時の昇順で返す。
func (r *SQLiteAccountRepo) List(ctx context.Context, filter AccountFilter) ([]*model.MonitoredAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts
		 WHERE (?1 = '' OR owner_id IS NULL OR owner_id = ?1)
		   AND (?2 = 0 OR is_active = 1)
		 ORDER BY created_at ASC, id ASC`,
		filter.OwnerID, boolToInt(filter.ActiveOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("監視アカウント一覧の取得に失敗しました: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*model.MonitoredAccount
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("監視アカウント行の読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視アカウント一覧の走査に失敗しました: %w", err)
	}
	return accounts, nil
}

// Create はアカウントを作成する。
func (r *SQLiteAccountRepo) Create(ctx context.Context, a *model.MonitoredAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monitored_accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Handle, a.DisplayName, a.AvatarURL, boolToInt(a.IsActive),
		nullString(a.OwnerID), formatNullableTime(a.LastFetchedAt),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("監視アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はアカウントの有効フラグと更新日時を更新する。
func (r *SQLiteAccountRepo) Update(ctx context.Context, a *model.MonitoredAccount) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE monitored_accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(a.IsActive), formatTime(a.UpdatedAt), a.ID,
	)
	if isSQLiteUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, fmt.Errorf("監視アカウントの更新に失敗しました: %w", err)
	}
	return affected(result)
}

// Delete は指定IDのアカウントを削除する。
func (r *SQLiteAccountRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM monitored_accounts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("監視アカウントの削除に失敗しました: %w", err)
	}
	return affected(result)
}

// TouchLastFetched はハンドル名が一致する有効なアカウントの最終取得日時を更新する。
func (r *SQLiteAccountRepo) TouchLastFetched(ctx context.Context, handle string, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE monitored_accounts SET last_fetched_at = ? WHERE is_active = 1 AND LOWER(handle) = LOWER(?)`,
		formatTime(at), handle,
	)
	if err != nil {
		return 0, fmt.Errorf("最終取得日時の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return int(n), nil
}

// Count は条件に一致するアカウントの件数を集計する。
func (r *SQLiteAccountRepo) Count(ctx context.Context, filter AccountFilter) (model.AccountCounts, error) {
	var c model.AccountCounts
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), IFNULL(SUM(is_active), 0)
		 FROM monitored_accounts
		 WHERE (?1 = '' OR owner_id IS NULL OR owner_id = ?1)`,
		filter.OwnerID,
	).Scan(&c.Total, &c.Active)
	if err != nil {
		return model.AccountCounts{}, fmt.Errorf("監視アカウント数の取得に失敗しました: %w", err)
	}
	return c, nil
}

func scanSQLiteAccount(row rowScanner) (*model.MonitoredAccount, error) {
	a := &model.MonitoredAccount{}
	var active int
	var owner, lastFetched sql.NullString
	var created, updated string
	if err := row.Scan(
		&a.ID, &a.Handle, &a.DisplayName, &a.AvatarURL, &active,
		&owner, &lastFetched, &created, &updated,
	); err != nil {
		return nil, err
	}
	a.IsActive = active == 1
	a.OwnerID = owner.String

	var err error
	if a.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, fmt.Errorf("created_at の解析に失敗しました: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return nil, fmt.Errorf("updated_at の解析に失敗しました: %w", err)
	}
	if lastFetched.Valid {
		t, err := time.Parse(sqliteTimeLayout, lastFetched.String)
		if err != nil {
			return nil, fmt.Errorf("last_fetched_at の解析に失敗しました: %w", err)
		}
		a.LastFetchedAt = &t
	}
	return a, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// compile-time interface check
var _ AccountRepository = (*SQLiteAccountRepo)(nil)
