package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/hitoshi/socialwatch/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newAccount(handle, owner string, offset time.Duration) *model.MonitoredAccount {
	created := baseTime.Add(offset)
	return &model.MonitoredAccount{
		ID:          uuid.NewString(),
		Handle:      handle,
		DisplayName: "Display " + handle,
		AvatarURL:   "https://pbs.twimg.com/profile_images/" + handle + ".jpg",
		IsActive:    true,
		CreatedAt:   created,
		UpdatedAt:   created,
		OwnerID:     owner,
	}
}

func handles(accounts []*model.MonitoredAccount) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Handle
	}
	return out
}

// runAccountRepositoryContract は全てのAccountRepository実装が満たすべき振る舞いを検証する。
func runAccountRepositoryContract(t *testing.T, newRepo func(t *testing.T) AccountRepository) {
	ctx := context.Background()

	t.Run("作成と取得", func(t *testing.T) {
		repo := newRepo(t)
		want := newAccount("Alice", "u1", 0)
		fetched := baseTime.Add(time.Minute)
		want.LastFetchedAt = &fetched

		if err := repo.Create(ctx, want); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.FindByID(ctx, want.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("FindByID mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("未検出はnil", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.FindByID(ctx, uuid.NewString())
		if err != nil || got != nil {
			t.Errorf("FindByID = %v, %v; want nil, nil", got, err)
		}
		got, err = repo.FindActiveByOwnerAndHandle(ctx, "u1", "nobody")
		if err != nil || got != nil {
			t.Errorf("FindActiveByOwnerAndHandle = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("所有者ごとの一意制約", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newAccount("alice", "u1", 0)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Create(ctx, newAccount("ALICE", "u1", time.Second)); !errors.Is(err, ErrDuplicate) {
			t.Errorf("同一所有者の重複: err = %v, want ErrDuplicate", err)
		}
		if err := repo.Create(ctx, newAccount("alice", "u2", time.Second)); err != nil {
			t.Errorf("所有者が異なれば登録できるべき: %v", err)
		}
		if err := repo.Create(ctx, newAccount("alice", "", time.Second)); err != nil {
			t.Errorf("所有者なしは別枠として登録できるべき: %v", err)
		}
		inactive := newAccount("alice", "u1", 2*time.Second)
		inactive.IsActive = false
		if err := repo.Create(ctx, inactive); err != nil {
			t.Errorf("無効なアカウントは一意制約の対象外であるべき: %v", err)
		}

		found, err := repo.FindActiveByOwnerAndHandle(ctx, "u1", "Alice")
		if err != nil || found == nil || found.OwnerID != "u1" || !found.IsActive {
			t.Errorf("FindActiveByOwnerAndHandle = %+v, %v", found, err)
		}
	})

	t.Run("一覧の絞り込みと順序", func(t *testing.T) {
		repo := newRepo(t)
		shared := newAccount("shared", "", 0)
		mine := newAccount("mine", "u1", time.Minute)
		theirs := newAccount("theirs", "u2", 2*time.Minute)
		off := newAccount("off", "u1", 3*time.Minute)
		off.IsActive = false
		for _, a := range []*model.MonitoredAccount{off, theirs, mine, shared} {
			if err := repo.Create(ctx, a); err != nil {
				t.Fatalf("Create(%s): %v", a.Handle, err)
			}
		}

		tests := []struct {
			name   string
			filter AccountFilter
			want   []string
		}{
			{"全件", AccountFilter{}, []string{"shared", "mine", "theirs", "off"}},
			{"所有者u1", AccountFilter{OwnerID: "u1"}, []string{"shared", "mine", "off"}},
			{"所有者u1の有効のみ", AccountFilter{OwnerID: "u1", ActiveOnly: true}, []string{"shared", "mine"}},
			{"有効のみ", AccountFilter{ActiveOnly: true}, []string{"shared", "mine", "theirs"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				if diff := cmp.Diff(tt.want, handles(got)); diff != "" {
					t.Errorf("List mismatch (-want +got):\n%s", diff)
				}
			})
		}

		counts, err := repo.Count(ctx, AccountFilter{OwnerID: "u1"})
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if diff := cmp.Diff(model.AccountCounts{Total: 3, Active: 2}, counts); diff != "" {
			t.Errorf("Count mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("更新", func(t *testing.T) {
		repo := newRepo(t)
		a := newAccount("alice", "u1", 0)
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}

		a.IsActive = false
		a.UpdatedAt = baseTime.Add(time.Hour)
		ok, err := repo.Update(ctx, a)
		if err != nil || !ok {
			t.Fatalf("Update = %v, %v", ok, err)
		}
		got, _ := repo.FindByID(ctx, a.ID)
		if got.IsActive || !got.UpdatedAt.Equal(a.UpdatedAt) {
			t.Errorf("更新が反映されていない: %+v", got)
		}

		// 無効化中に同一ハンドルを再登録した後の再有効化は重複となる
		if err := repo.Create(ctx, newAccount("Alice", "u1", time.Minute)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		a.IsActive = true
		if _, err := repo.Update(ctx, a); !errors.Is(err, ErrDuplicate) {
			t.Errorf("再有効化の重複: err = %v, want ErrDuplicate", err)
		}

		missing := newAccount("ghost", "u1", 0)
		ok, err = repo.Update(ctx, missing)
		if err != nil || ok {
			t.Errorf("存在しないアカウントの更新 = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("削除", func(t *testing.T) {
		repo := newRepo(t)
		a := newAccount("alice", "u1", 0)
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ok, err := repo.Delete(ctx, a.ID)
		if err != nil || !ok {
			t.Fatalf("Delete = %v, %v", ok, err)
		}
		ok, err = repo.Delete(ctx, a.ID)
		if err != nil || ok {
			t.Errorf("2回目のDelete = %v, %v; want false, nil", ok, err)
		}
		if got, _ := repo.FindByID(ctx, a.ID); got != nil {
			t.Error("削除後も取得できる")
		}
	})

	t.Run("最終取得日時の更新", func(t *testing.T) {
		repo := newRepo(t)
		a1 := newAccount("alice", "u1", 0)
		a2 := newAccount("Alice", "u2", 0)
		off := newAccount("alice", "u3", 0)
		off.IsActive = false
		other := newAccount("bob", "u1", 0)
		for _, a := range []*model.MonitoredAccount{a1, a2, off, other} {
			if err := repo.Create(ctx, a); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		at := baseTime.Add(30 * time.Minute)
		n, err := repo.TouchLastFetched(ctx, "ALICE", at)
		if err != nil {
			t.Fatalf("TouchLastFetched: %v", err)
		}
		if n != 2 {
			t.Errorf("updated = %d, want 2", n)
		}
		got, _ := repo.FindByID(ctx, a2.ID)
		if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(at) {
			t.Errorf("LastFetchedAt = %v, want %v", got.LastFetchedAt, at)
		}
		got, _ = repo.FindByID(ctx, off.ID)
		if got.LastFetchedAt != nil {
			t.Error("無効なアカウントは更新しない")
		}
	})
}
