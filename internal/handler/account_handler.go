package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialwatch/internal/middleware"
	"github.com/hitoshi/socialwatch/internal/model"
)

// AccountServiceInterface は監視アカウントハンドラーが必要とするサービスインターフェース。
// ownerID には常にリクエストのプリンシパルを渡す。
type AccountServiceInterface interface {
	List(ctx context.Context, ownerID string) ([]model.MonitoredAccount, error)
	Add(ctx context.Context, handle, ownerID string) (*model.MonitoredAccount, error)
	Update(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error)
	Remove(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error)
	Counts(ctx context.Context, ownerID string) (model.AccountCounts, error)
}

// AccountHandler は監視アカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// addAccountRequest は監視アカウント追加リクエストのボディ。
type addAccountRequest struct {
	Handle string `json:"username"`
}

// accountListResponse は監視アカウント一覧のレスポンス。
type accountListResponse struct {
	Accounts []model.MonitoredAccount `json:"accounts"`
	Total    int                      `json:"total"`
	Active   int                      `json:"active"`
}

// ListAccounts はプリンシパルから参照可能な監視アカウントの一覧を返す。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.List(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	counts, err := h.service.Counts(r.Context(), principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if accounts == nil {
		accounts = []model.MonitoredAccount{}
	}
	writeJSON(w, http.StatusOK, accountListResponse{
		Accounts: accounts,
		Total:    counts.Total,
		Active:   counts.Active,
	})
}

// AddAccount は監視アカウントを追加する。
// POST /api/accounts
func (h *AccountHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	account, err := h.service.Add(r.Context(), req.Handle, principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// UpdateAccount は監視アカウントの有効/無効を切り替える。
// PUT /api/accounts/{id}
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var upd model.AccountUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeInvalidBody(w)
		return
	}

	account, err := h.service.Update(r.Context(), id, principal, upd)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if account == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// RemoveAccount は監視アカウントを削除し、削除したアカウントを返す。
// DELETE /api/accounts/{id}
func (h *AccountHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	account, err := h.service.Remove(r.Context(), id, principal)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if account == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// requirePrincipal はリクエストのプリンシパルを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return "", false
	}
	return principal, true
}
