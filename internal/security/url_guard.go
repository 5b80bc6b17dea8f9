// Package security は上流APIとの通信および上流データの取り込みに関わる安全対策を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard は外部URLへの接続と外部から受け取ったURLの検証を行う。
type URLGuard struct {
	// allowPlainHTTP はhttpスキームを許可するか。上流APIクライアントのみhttpsに限定する。
	allowPlainHTTP bool
}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{}
}

// blockedNetworks は接続・参照を禁止するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータ (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NewUpstreamHTTPClient は上流API呼び出し用のHTTPクライアントを生成する。
// httpsの443番ポートのみ接続可能で、DNS解決後のIPがプライベート帯域の場合は接続を拒否する。
// timeout は呼び出し1回あたりの上限。
func (g *URLGuard) NewUpstreamHTTPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は外部から受け取ったURLを静的に検証する。DNS解決は行わない。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && !(g.allowPlainHTTP && scheme == "http") {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// SafeAvatarURL はアバター画像URLが安全であればそのまま、そうでなければ空文字列を返す。
// 上流のプロフィールに含まれるURLをそのままクライアントへ渡さないために使用する。
func (g *URLGuard) SafeAvatarURL(rawURL string) string {
	if rawURL == "" || g.ValidateURL(rawURL) != nil {
		return ""
	}
	return rawURL
}
