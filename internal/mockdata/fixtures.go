package mockdata

import (
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// knownProfiles は固定の模擬ユーザー。
var knownProfiles = []model.Profile{
	{
		ID:          "1",
		Handle:      "technews",
		DisplayName: "Tech News",
		AvatarURL:   "https://via.placeholder.com/40x40/1da1f2/ffffff?text=TN",
		Verified:    true,
		Metrics:     &model.ProfileMetrics{Followers: 125000, Following: 500, Posts: 15000},
	},
	{
		ID:          "2",
		Handle:      "updates",
		DisplayName: "Industry Updates",
		AvatarURL:   "https://via.placeholder.com/40x40/1da1f2/ffffff?text=IU",
		Verified:    false,
		Metrics:     &model.ProfileMetrics{Followers: 45000, Following: 200, Posts: 8500},
	},
	{
		ID:          "3",
		Handle:      "dev",
		DisplayName: "Development",
		AvatarURL:   "https://via.placeholder.com/40x40/1da1f2/ffffff?text=DEV",
		Verified:    true,
		Metrics:     &model.ProfileMetrics{Followers: 89000, Following: 150, Posts: 12000},
	},
	{
		ID:          "4",
		Handle:      "ai_research",
		DisplayName: "AI Research Updates",
		AvatarURL:   "https://via.placeholder.com/40x40/1da1f2/ffffff?text=AI",
		Verified:    true,
		Metrics:     &model.ProfileMetrics{Followers: 67000, Following: 300, Posts: 9500},
	},
}

var knownByKey = func() map[string]model.Profile {
	m := make(map[string]model.Profile, len(knownProfiles))
	for _, p := range knownProfiles {
		m[model.HandleKey(p.Handle)] = p
	}
	return m
}()

// DemoAccounts はデモ用の監視アカウント（所有者なし）を返す。IDは呼び出し側で採番する。
// 最終取得時刻と登録日時は now からの相対値。
func DemoAccounts(now time.Time) []model.MonitoredAccount {
	demo := []struct {
		handle      string
		displayName string
		avatar      string
		fetchedAgo  time.Duration
		addedAgo    time.Duration
	}{
		{"technews", "Tech News", "https://pbs.twimg.com/profile_images/1234567890/avatar.jpg", 5 * time.Minute, 7 * 24 * time.Hour},
		{"updates", "Industry Updates", "https://pbs.twimg.com/profile_images/1234567891/avatar.jpg", 10 * time.Minute, 14 * 24 * time.Hour},
		{"dev", "Developer News", "https://pbs.twimg.com/profile_images/1234567892/avatar.jpg", 2 * time.Minute, 3 * 24 * time.Hour},
	}

	accounts := make([]model.MonitoredAccount, len(demo))
	for i, d := range demo {
		fetched := now.Add(-d.fetchedAgo)
		created := now.Add(-d.addedAgo)
		accounts[i] = model.MonitoredAccount{
			Handle:        d.handle,
			DisplayName:   d.displayName,
			AvatarURL:     d.avatar,
			IsActive:      true,
			CreatedAt:     created,
			UpdatedAt:     created,
			LastFetchedAt: &fetched,
		}
	}
	return accounts
}
