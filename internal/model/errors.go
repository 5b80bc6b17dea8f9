// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, upstream, system
	Action   string // ユーザー向け対処方法

	// UpstreamStatus は上流APIが返したHTTPステータス（UPSTREAM_ERROR のみ）。
	UpstreamStatus int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountExists      = "ACCOUNT_EXISTS"
	ErrCodeInvalidUsername    = "INVALID_USERNAME"
	ErrCodeInvalidLimit       = "INVALID_LIMIT"
	ErrCodeInvalidUpdate      = "INVALID_UPDATE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeUpstreamAuthFailed = "UPSTREAM_AUTH_FAILED"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorCode はエラーチェーン中のAPIErrorのコードを返す。
// APIErrorを含まない場合は空文字列を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsCode はエラーチェーン中に指定コードのAPIErrorが含まれるかを判定する。
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsNotFound はプロフィールまたはアカウントの未検出エラーかを判定する。
func IsNotFound(err error) bool {
	code := ErrorCode(err)
	return code == ErrCodeUserNotFound || code == ErrCodeAccountNotFound
}

// NewUserNotFoundError は上流アカウント未検出エラーを生成する。
func NewUserNotFoundError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザー @%s が見つかりません。", handle),
		Category: "account",
		Action:   "ハンドル名の綴りを確認してください。",
	}
}

// NewAccountNotFoundError は監視アカウント未検出エラーを生成する。
func NewAccountNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定された監視アカウントが見つかりません: %s", id),
		Category: "account",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewAccountExistsError は同一ハンドルの監視アカウントが既に有効な場合のエラーを生成する。
func NewAccountExistsError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  fmt.Sprintf("@%s は既に監視中です。", handle),
		Category: "account",
		Action:   "監視アカウント一覧から該当アカウントを確認してください。",
	}
}

// NewInvalidUsernameError は不正なハンドル名のエラーを生成する。
func NewInvalidUsernameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUsername,
		Message:  fmt.Sprintf("無効なユーザー名です: %s", reason),
		Category: "validation",
		Action:   "英数字とアンダースコアのみ、15文字以内で入力してください。",
	}
}

// NewInvalidLimitError は取得件数が範囲外の場合のエラーを生成する。
func NewInvalidLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な取得件数です: %d", limit),
		Category: "validation",
		Action:   fmt.Sprintf("取得件数は%dから%dの範囲で指定してください。", MinPostLimit, MaxPostLimit),
	}
}

// NewInvalidUpdateError は更新可能なフィールドが含まれない場合のエラーを生成する。
func NewInvalidUpdateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUpdate,
		Message:  "更新可能なフィールドが指定されていません。",
		Category: "validation",
		Action:   "is_active を指定してください。",
	}
}

// NewInvalidRequestError はリクエストの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
// ローカルのクォータ枯渇と上流の429の両方で使用する。
func NewRateLimitExceededError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  fmt.Sprintf("レート制限を超過しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamAuthFailedError は上流APIの認証失敗エラーを生成する。
func NewUpstreamAuthFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuthFailed,
		Message:  fmt.Sprintf("上流APIの認証に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "ベアラートークンの設定を確認してください。",
	}
}

// NewUpstreamError は上流APIが2xx以外を返した場合のエラーを生成する。
func NewUpstreamError(status int, reason string) *APIError {
	return &APIError{
		Code:           ErrCodeUpstreamError,
		Message:        fmt.Sprintf("上流APIがステータス %d を返しました: %s", status, reason),
		Category:       "upstream",
		Action:         "しばらく待ってから再度お試しください。",
		UpstreamStatus: status,
	}
}

// NewAuthRequiredError はプリンシパルを特定できないリクエストのエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なトークンを Authorization ヘッダーに指定してください。",
	}
}

// NewForbiddenError は管理操作を許可されていないプリンシパルのエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者として登録されたプリンシパルで再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
