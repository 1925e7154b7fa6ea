// Package security はアプリケーションのセキュリティ機能を提供する。
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

// allowedSchemes はメディア取得で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// defaultPorts はポート指定がない場合に許可するポート。
var defaultPorts = []int{80, 443}

// blockedNetworks はメディア取得でブロックされるネットワーク範囲。
// アップロード先が返したURLは外部入力として扱い、内部ネットワークへの到達を防ぐ。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// キャリアグレードNAT (RFC 6598)
		"100.64.0.0/10",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータIPを含む）
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames は名前解決前に拒否するホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// SSRFGuard はアップロード済みメディアを取得し直す際のURL検証と
// 安全なHTTPクライアントの生成を行う。
type SSRFGuard struct {
	ports []int
}

// NewSSRFGuard はSSRFGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewSSRFGuard(ports ...int) *SSRFGuard {
	if len(ports) == 0 {
		ports = defaultPorts
	}
	return &SSRFGuard{ports: ports}
}

// NewSafeClient はsafeurlで接続先を検証するHTTPクライアントを生成する。
// 名前解決後のIPアドレスもダイアル時に検証される。
// レスポンスサイズの上限は呼び出し側で適用する。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はメディアURLを名前解決なしで静的に検証する。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if p := parsed.Port(); p != "" && !g.allowsPort(p) {
		return fmt.Errorf("disallowed port: %s", p)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func (g *SSRFGuard) allowsPort(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname は拒否リストのホスト名と、その配下の".localhost"を拒否する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if strings.HasSuffix(lower, ".localhost") {
		return true
	}
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
