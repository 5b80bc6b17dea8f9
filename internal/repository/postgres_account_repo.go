package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/socialwatch/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

const accountColumns = `id, handle, display_name, avatar_url, is_active, owner_id, last_fetched_at, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用した監視アカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.MonitoredAccount, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts WHERE id = $1`,
		id,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視アカウントの取得に失敗しました: %w", err)
	}
	return a, nil
}

// FindActiveByOwnerAndHandle は所有者とハンドル名が一致する有効なアカウントを返す。
func (r *PostgresAccountRepo) FindActiveByOwnerAndHandle(ctx context.Context, ownerID, handle string) (*model.MonitoredAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts
		 WHERE is_active AND COALESCE(owner_id, '') = $1 AND LOWER(handle) = LOWER($2)`,
		ownerID, handle,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("所有者とハンドル名による監視アカウントの検索に失敗しました: %w", err)
	}
	return a, nil
}

// List は条件に一致するアカウントを登録日時の昇順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context, filter AccountFilter) ([]*model.MonitoredAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM monitored_accounts
		 WHERE ($1 = '' OR owner_id IS NULL OR owner_id = $1)
		   AND (NOT $2 OR is_active)
		 ORDER BY created_at ASC, id ASC`,
		filter.OwnerID, filter.ActiveOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("監視アカウント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.MonitoredAccount
	for rows.Next() {
		a, err := scanAccount(rows)
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
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.MonitoredAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monitored_accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Handle, a.DisplayName, a.AvatarURL, a.IsActive,
		nullString(a.OwnerID), nullTime(a.LastFetchedAt), a.CreatedAt, a.UpdatedAt,
	)
	if isPgUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("監視アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はアカウントの有効フラグと更新日時を更新する。
func (r *PostgresAccountRepo) Update(ctx context.Context, a *model.MonitoredAccount) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE monitored_accounts SET is_active = $2, updated_at = $3 WHERE id = $1`,
		a.ID, a.IsActive, a.UpdatedAt,
	)
	if isPgUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, fmt.Errorf("監視アカウントの更新に失敗しました: %w", err)
	}
	return affected(result)
}

// Delete は指定IDのアカウントを削除する。
func (r *PostgresAccountRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM monitored_accounts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("監視アカウントの削除に失敗しました: %w", err)
	}
	return affected(result)
}

// TouchLastFetched はハンドル名が一致する有効なアカウントの最終取得日時を更新する。
func (r *PostgresAccountRepo) TouchLastFetched(ctx context.Context, handle string, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE monitored_accounts SET last_fetched_at = $2 WHERE is_active AND LOWER(handle) = LOWER($1)`,
		handle, at,
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
func (r *PostgresAccountRepo) Count(ctx context.Context, filter AccountFilter) (model.AccountCounts, error) {
	var c model.AccountCounts
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		 FROM monitored_accounts
		 WHERE ($1 = '' OR owner_id IS NULL OR owner_id = $1)`,
		filter.OwnerID,
	).Scan(&c.Total, &c.Active)
	if err != nil {
		return model.AccountCounts{}, fmt.Errorf("監視アカウント数の取得に失敗しました: %w", err)
	}
	return c, nil
}

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.MonitoredAccount, error) {
	a := &model.MonitoredAccount{}
	var owner sql.NullString
	var lastFetched sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Handle, &a.DisplayName, &a.AvatarURL, &a.IsActive,
		&owner, &lastFetched, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.OwnerID = owner.String
	if lastFetched.Valid {
		t := lastFetched.Time
		a.LastFetchedAt = &t
	}
	return a, nil
}

func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
