package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/socialwatch/internal/model"
)

// ServiceAdmin はデータアクセス層の状態参照と管理操作のインターフェース。
type ServiceAdmin interface {
	ServiceInfo() model.ServiceInfo
	ClearCache() int
}

// MockModeSetter は実行時のモックモード上書きを設定する。nil は上書きの解除。
type MockModeSetter interface {
	SetMockOverride(enabled *bool)
}

// HealthChecker はストレージの疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// ServiceHandler はサービス状態と管理操作のHTTPハンドラー。
type ServiceHandler struct {
	admin  ServiceAdmin
	mode   MockModeSetter
	health HealthChecker
}

// NewServiceHandler はServiceHandlerを生成する。
// health が nil の場合、ヘルスチェックはストレージの疎通を確認しない。
func NewServiceHandler(admin ServiceAdmin, mode MockModeSetter, health HealthChecker) *ServiceHandler {
	return &ServiceHandler{
		admin:  admin,
		mode:   mode,
		health: health,
	}
}

// mockModeRequest はモックモード切替リクエストのボディ。
// enabled を null にすると上書きを解除し、環境変数の設定に戻る。
type mockModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// clearCacheResponse はキャッシュクリアのレスポンス。
type clearCacheResponse struct {
	Cleared int `json:"cleared"`
}

// Health は稼働確認に応答する。
// GET /health
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServiceInfo はデータアクセス層の状態を返す。
// GET /api/service
func (h *ServiceHandler) ServiceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.ServiceInfo())
}

// ClearCache はキャッシュを全て破棄する。
// DELETE /api/service/cache
func (h *ServiceHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clearCacheResponse{Cleared: h.admin.ClearCache()})
}

// SetMockMode はモックモードの上書きを設定し、更新後の状態を返す。
// PUT /api/service/mock
func (h *ServiceHandler) SetMockMode(w http.ResponseWriter, r *http.Request) {
	var req mockModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	h.mode.SetMockOverride(req.Enabled)

	slog.Info("mock mode override updated", slog.Any("enabled", req.Enabled))

	writeJSON(w, http.StatusOK, h.admin.ServiceInfo())
}
