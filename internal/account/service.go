// Package account は監視アカウントの登録・一覧・更新・削除を提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/mockdata"
	"github.com/hitoshi/socialwatch/internal/model"
	"github.com/hitoshi/socialwatch/internal/repository"
	"github.com/hitoshi/socialwatch/internal/social"
)

// DefaultStaleAfter は最終取得からこの期間を過ぎた有効なアカウントを stale とする既定値。
const DefaultStaleAfter = 30 * time.Minute

// ValidationPolicy は登録時のハンドル名の存在確認方法。
type ValidationPolicy string

const (
	// ValidationLenient は上流失敗時にモックデータで存在確認することを許可する。
	ValidationLenient ValidationPolicy = "lenient"
	// ValidationStrict は実モードでは上流で実在が確認できた場合のみ登録する。
	ValidationStrict ValidationPolicy = "strict"
)

// ProfileResolver はハンドル名からプロフィールを解決する。存在しない場合は (nil, nil) を返す。
type ProfileResolver interface {
	GetProfile(ctx context.Context, handle string) (*model.Profile, error)
}

// Config はServiceの設定。
type Config struct {
	Validation ValidationPolicy
	StaleAfter time.Duration
}

// Service は監視アカウントのビジネスロジックを提供する。
type Service struct {
	repo     repository.AccountRepository
	profiles ProfileResolver
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.AccountRepository, profiles ProfileResolver, cfg Config, clk clock.Clock, logger *slog.Logger) *Service {
	if cfg.Validation == "" {
		cfg.Validation = ValidationLenient
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{repo: repo, profiles: profiles, cfg: cfg, clock: clk, logger: logger}
}

// List はプリンシパルから参照可能な監視アカウントを返す。ownerIDが空の場合は全件を返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]model.MonitoredAccount, error) {
	return s.list(ctx, repository.AccountFilter{OwnerID: ownerID})
}

// ListActive は全所有者の有効な監視アカウントを返す。定期更新で使用する。
func (s *Service) ListActive(ctx context.Context) ([]model.MonitoredAccount, error) {
	return s.list(ctx, repository.AccountFilter{ActiveOnly: true})
}

// Get は指定IDの監視アカウントを返す。存在しない、または参照できない場合はnilを返す。
func (s *Service) Get(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error) {
	a, err := s.find(ctx, id, ownerID)
	if err != nil || a == nil {
		return nil, err
	}
	s.withStatus(a)
	return a, nil
}

// Add はハンドル名を監視対象に登録する。
// 同一所有者で有効な同一ハンドル（大文字小文字を区別しない）が存在する場合は ACCOUNT_EXISTS、
// プロフィールが解決できない場合は USER_NOT_FOUND を返す。
func (s *Service) Add(ctx context.Context, rawHandle, ownerID string) (*model.MonitoredAccount, error) {
	handle, err := model.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActiveByOwnerAndHandle(ctx, ownerID, handle)
	if err != nil {
		return nil, fmt.Errorf("既存の監視アカウントの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAccountExistsError(handle)
	}

	resolveCtx := ctx
	if s.cfg.Validation == ValidationStrict {
		resolveCtx = social.WithoutFallback(ctx)
	}
	prof, err := s.profiles.GetProfile(resolveCtx, handle)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		return nil, model.NewUserNotFoundError(handle)
	}

	now := s.clock.Now()
	a := &model.MonitoredAccount{
		ID:          uuid.NewString(),
		Handle:      prof.Handle,
		DisplayName: prof.DisplayName,
		AvatarURL:   prof.AvatarURL,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		OwnerID:     ownerID,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAccountExistsError(handle)
		}
		return nil, fmt.Errorf("監視アカウントの登録に失敗しました: %w", err)
	}

	s.logger.Info("監視アカウントを登録しました",
		slog.String("account_id", a.ID),
		slog.String("handle", a.Handle),
		slog.String("owner_id", ownerID),
	)
	s.withStatus(a)
	return a, nil
}

// Remove は監視アカウントを削除し、削除したアカウントを返す。存在しない場合はnilを返す。
func (s *Service) Remove(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error) {
	a, err := s.find(ctx, id, ownerID)
	if err != nil || a == nil {
		return nil, err
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("監視アカウントの削除に失敗しました: %w", err)
	}
	if !ok {
		return nil, nil
	}

	s.logger.Info("監視アカウントを削除しました",
		slog.String("account_id", id),
		slog.String("handle", a.Handle),
	)
	s.withStatus(a)
	return a, nil
}

// Update は監視アカウントの可変フィールドを更新し、更新後のアカウントを返す。存在しない場合はnilを返す。
// 更新可能なフィールドが1つも指定されていない場合は INVALID_UPDATE を返す。
func (s *Service) Update(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error) {
	if upd.Empty() {
		return nil, model.NewInvalidUpdateError()
	}

	a, err := s.find(ctx, id, ownerID)
	if err != nil || a == nil {
		return nil, err
	}

	if upd.IsActive != nil {
		a.IsActive = *upd.IsActive
	}
	a.UpdatedAt = s.clock.Now()

	ok, err := s.repo.Update(ctx, a)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAccountExistsError(a.Handle)
		}
		return nil, fmt.Errorf("監視アカウントの更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, nil
	}
	s.withStatus(a)
	return a, nil
}

// TouchLastFetched はハンドル名が一致する有効な監視アカウントの最終取得日時を現在時刻に更新する。
func (s *Service) TouchLastFetched(ctx context.Context, handle string) error {
	n, err := s.repo.TouchLastFetched(ctx, handle, s.clock.Now())
	if err != nil {
		return fmt.Errorf("最終取得日時の更新に失敗しました: %w", err)
	}
	if n > 0 {
		s.logger.Debug("最終取得日時を更新しました", slog.String("handle", handle), slog.Int("accounts", n))
	}
	return nil
}

// Counts はプリンシパルから参照可能な監視アカウントの件数を返す。
func (s *Service) Counts(ctx context.Context, ownerID string) (model.AccountCounts, error) {
	c, err := s.repo.Count(ctx, repository.AccountFilter{OwnerID: ownerID})
	if err != nil {
		return model.AccountCounts{}, fmt.Errorf("監視アカウント数の取得に失敗しました: %w", err)
	}
	return c, nil
}

// SeedDemo は所有者なしのデモ用監視アカウントを登録し、登録件数を返す。
// 既に登録済みのハンドルはスキップする。
func (s *Service) SeedDemo(ctx context.Context) (int, error) {
	seeded := 0
	for _, a := range mockdata.DemoAccounts(s.clock.Now()) {
		a.ID = uuid.NewString()
		err := s.repo.Create(ctx, &a)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return seeded, fmt.Errorf("デモ用監視アカウントの登録に失敗しました: %w", err)
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("デモ用監視アカウントを登録しました", slog.Int("accounts", seeded))
	}
	return seeded, nil
}

func (s *Service) list(ctx context.Context, filter repository.AccountFilter) ([]model.MonitoredAccount, error) {
	accounts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("監視アカウント一覧の取得に失敗しました: %w", err)
	}
	out := make([]model.MonitoredAccount, 0, len(accounts))
	for _, a := range accounts {
		s.withStatus(a)
		out = append(out, *a)
	}
	return out, nil
}

// find は指定IDのアカウントを返す。ownerIDが指定され、そのプリンシパルから参照できない場合はnilを返す。
func (s *Service) find(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("監視アカウントの取得に失敗しました: %w", err)
	}
	if a == nil || (ownerID != "" && !a.VisibleTo(ownerID)) {
		return nil, nil
	}
	return a, nil
}

func (s *Service) withStatus(a *model.MonitoredAccount) {
	a.Status = a.DeriveStatus(s.clock.Now(), s.cfg.StaleAfter)
}
