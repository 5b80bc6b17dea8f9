package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/socialwatch/internal/model"
)

// --- モック定義 ---

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	listFn   func(ctx context.Context, ownerID string) ([]model.MonitoredAccount, error)
	addFn    func(ctx context.Context, handle, ownerID string) (*model.MonitoredAccount, error)
	updateFn func(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error)
	removeFn func(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error)
	countsFn func(ctx context.Context, ownerID string) (model.AccountCounts, error)
}

func (m *mockAccountService) List(ctx context.Context, ownerID string) ([]model.MonitoredAccount, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockAccountService) Add(ctx context.Context, handle, ownerID string) (*model.MonitoredAccount, error) {
	if m.addFn != nil {
		return m.addFn(ctx, handle, ownerID)
	}
	return nil, nil
}

func (m *mockAccountService) Update(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, ownerID, upd)
	}
	return nil, nil
}

func (m *mockAccountService) Remove(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, id, ownerID)
	}
	return nil, nil
}

func (m *mockAccountService) Counts(ctx context.Context, ownerID string) (model.AccountCounts, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx, ownerID)
	}
	return model.AccountCounts{}, nil
}

func testAccount(id, handle string) *model.MonitoredAccount {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.MonitoredAccount{
		ID:          id,
		Handle:      handle,
		DisplayName: "Name " + handle,
		IsActive:    true,
		CreatedAt:   created,
		UpdatedAt:   created,
		OwnerID:     "alice",
		Status:      model.AccountStatusStale,
	}
}

// --- ListAccounts ---

func TestListAccounts_Success(t *testing.T) {
	var gotOwner string
	svc := &mockAccountService{
		listFn: func(ctx context.Context, ownerID string) ([]model.MonitoredAccount, error) {
			gotOwner = ownerID
			return []model.MonitoredAccount{*testAccount("a1", "technews"), *testAccount("a2", "dev")}, nil
		},
		countsFn: func(ctx context.Context, ownerID string) (model.AccountCounts, error) {
			return model.AccountCounts{Total: 2, Active: 2}, nil
		},
	}
	h := NewAccountHandler(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/accounts", nil), "alice")
	w := httptest.NewRecorder()
	h.ListAccounts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotOwner != "alice" {
		t.Errorf("ownerID = %q, want %q", gotOwner, "alice")
	}

	var body accountListResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Accounts) != 2 || body.Total != 2 || body.Active != 2 {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Accounts[0].Handle != "technews" {
		t.Errorf("accounts[0].username = %q, want %q", body.Accounts[0].Handle, "technews")
	}
}

func TestListAccounts_EmptyIsArray(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/accounts", nil), "alice")
	w := httptest.NewRecorder()
	h.ListAccounts(w, req)

	if !bytes.Contains(w.Body.Bytes(), []byte(`"accounts":[]`)) {
		t.Errorf("body = %s, want empty accounts array", w.Body.String())
	}
}

func TestListAccounts_NoPrincipal_Returns401(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	w := httptest.NewRecorder()
	h.ListAccounts(w, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- AddAccount ---

func TestAddAccount_Success(t *testing.T) {
	var gotHandle, gotOwner string
	svc := &mockAccountService{
		addFn: func(ctx context.Context, handle, ownerID string) (*model.MonitoredAccount, error) {
			gotHandle, gotOwner = handle, ownerID
			return testAccount("new-id", "technews"), nil
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString(`{"username":"@technews"}`))
	req = withPrincipal(req, "alice")
	w := httptest.NewRecorder()
	h.AddAccount(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotHandle != "@technews" || gotOwner != "alice" {
		t.Errorf("Add(%q, %q), want (%q, %q)", gotHandle, gotOwner, "@technews", "alice")
	}
	var body model.MonitoredAccount
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "new-id" {
		t.Errorf("id = %q, want %q", body.ID, "new-id")
	}
}

func TestAddAccount_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"duplicate", `{"username":"technews"}`, model.NewAccountExistsError("technews"), http.StatusConflict, model.ErrCodeAccountExists},
		{"not found", `{"username":"ghost"}`, model.NewUserNotFoundError("ghost"), http.StatusNotFound, model.ErrCodeUserNotFound},
		{"invalid handle", `{"username":""}`, model.NewInvalidUsernameError("空"), http.StatusBadRequest, model.ErrCodeInvalidUsername},
		{"storage failure", `{"username":"dev"}`, errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAccountService{
				addFn: func(ctx context.Context, handle, ownerID string) (*model.MonitoredAccount, error) {
					return nil, tt.err
				},
			}
			h := NewAccountHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString(tt.body))
			req = withPrincipal(req, "alice")
			w := httptest.NewRecorder()
			h.AddAccount(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

// --- UpdateAccount ---

func TestUpdateAccount_Success(t *testing.T) {
	var gotUpd model.AccountUpdate
	var gotID string
	svc := &mockAccountService{
		updateFn: func(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error) {
			gotID, gotUpd = id, upd
			a := testAccount(id, "technews")
			a.IsActive = *upd.IsActive
			return a, nil
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/accounts/a1", bytes.NewBufferString(`{"is_active":false}`))
	req = withChiURLParam(withPrincipal(req, "alice"), "id", "a1")
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "a1" || gotUpd.IsActive == nil || *gotUpd.IsActive {
		t.Errorf("Update(%q, %+v)", gotID, gotUpd)
	}
}

func TestUpdateAccount_EmptyBodyPassesEmptyUpdate(t *testing.T) {
	svc := &mockAccountService{
		updateFn: func(ctx context.Context, id, ownerID string, upd model.AccountUpdate) (*model.MonitoredAccount, error) {
			if upd.Empty() {
				return nil, model.NewInvalidUpdateError()
			}
			return testAccount(id, "technews"), nil
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/accounts/a1", bytes.NewBufferString(`{"display_name":"x"}`))
	req = withChiURLParam(withPrincipal(req, "alice"), "id", "a1")
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeInvalidUpdate {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidUpdate)
	}
}

func TestUpdateAccount_Absent_Returns404(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	req := httptest.NewRequest(http.MethodPut, "/api/accounts/missing", bytes.NewBufferString(`{"is_active":true}`))
	req = withChiURLParam(withPrincipal(req, "alice"), "id", "missing")
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeAccountNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAccountNotFound)
	}
}

// --- RemoveAccount ---

func TestRemoveAccount_ReturnsRemoved(t *testing.T) {
	var gotOwner string
	svc := &mockAccountService{
		removeFn: func(ctx context.Context, id, ownerID string) (*model.MonitoredAccount, error) {
			gotOwner = ownerID
			return testAccount(id, "dev"), nil
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/accounts/a9", nil)
	req = withChiURLParam(withPrincipal(req, "alice"), "id", "a9")
	w := httptest.NewRecorder()
	h.RemoveAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotOwner != "alice" {
		t.Errorf("ownerID = %q, want %q", gotOwner, "alice")
	}
	var body model.MonitoredAccount
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "a9" || body.Handle != "dev" {
		t.Errorf("removed = %+v", body)
	}
}

func TestRemoveAccount_Absent_Returns404(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/accounts/missing", nil)
	req = withChiURLParam(withPrincipal(req, "alice"), "id", "missing")
	w := httptest.NewRecorder()
	h.RemoveAccount(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
