package config

import (
	"os"
	"strings"
	"sync"
)

// 上流APIのベアラートークンを読む環境変数。先頭から順に参照する。
var bearerTokenEnvKeys = []string{"X_BEARER_TOKEN", "TWITTER_BEARER_TOKEN"}

// CredentialSource は上流APIの資格情報とモックモード判定を提供する。
// 値は呼び出しごとにプロセス環境から読み直すため、再起動なしで設定変更が反映される。
// 管理APIからの実行時オーバーライドは環境変数より優先する。
type CredentialSource struct {
	mu       sync.RWMutex
	override *bool
	getenv   func(string) string
}

// NewCredentialSource はプロセス環境を参照するCredentialSourceを生成する。
func NewCredentialSource() *CredentialSource {
	return &CredentialSource{getenv: os.Getenv}
}

// NewCredentialSourceWithEnv は任意の参照関数を使うCredentialSourceを生成する。テスト用。
func NewCredentialSourceWithEnv(getenv func(string) string) *CredentialSource {
	return &CredentialSource{getenv: getenv}
}

// Token はベアラートークンを返す。未設定の場合は空文字列を返す。
func (c *CredentialSource) Token() string {
	for _, key := range bearerTokenEnvKeys {
		if v := strings.TrimSpace(c.getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// HasCredential はベアラートークンが設定されているかを返す。
func (c *CredentialSource) HasCredential() bool {
	return c.Token() != ""
}

// MockEnabled はモックモードが有効かを返す。
// オーバーライドが設定されていればその値、なければ MOCK_DATA_ENABLED が真か資格情報が未設定の場合に有効。
func (c *CredentialSource) MockEnabled() bool {
	c.mu.RLock()
	override := c.override
	c.mu.RUnlock()
	if override != nil {
		return *override || !c.HasCredential()
	}

	if strings.EqualFold(strings.TrimSpace(c.getenv("MOCK_DATA_ENABLED")), "true") {
		return true
	}
	return !c.HasCredential()
}

// SetMockOverride は実行時のモックモード指定を設定する。nilで解除する。
// 資格情報がない場合はオーバーライドがfalseでもモックモードのままとなる。
func (c *CredentialSource) SetMockOverride(enabled *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled == nil {
		c.override = nil
		return
	}
	v := *enabled
	c.override = &v
}

// MockOverride は現在の実行時オーバーライドを返す。未設定の場合はnil。
func (c *CredentialSource) MockOverride() *bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.override == nil {
		return nil
	}
	v := *c.override
	return &v
}
