package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeAssetURL はアセットURLが許可されないことを表す。
var ErrUnsafeAssetURL = errors.New("unsafe asset url")

// AssetURLGuard はアセットストアへのアクセスをSSRFから保護する。
// 商品登録時のURL検証とダウンロード時のHTTPクライアント生成で使う。
type AssetURLGuard interface {
	// NewClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// 接続時にDNS解決後のIPアドレスを検証するため、DNS再バインディングにも対応する。
	NewClient(timeout time.Duration) *http.Client

	// Validate はURLを静的に検証する。httpsのみ許可し、
	// プライベート・ループバック・リンクローカルのIPリテラルとlocalhostを拒否する。
	Validate(rawURL string) error
}

type assetURLGuard struct{}

// NewAssetURLGuard はAssetURLGuardを生成する。
func NewAssetURLGuard() *assetURLGuard {
	return &assetURLGuard{}
}

// NewClient はhttps/443のみ許可するsafeurlクライアントを返す。
// リダイレクト先もsafeurlのDialerで検証される。
func (g *assetURLGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// Validate はURLを静的に検証する。
func (g *assetURLGuard) Validate(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty url", ErrUnsafeAssetURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeAssetURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeAssetURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrUnsafeAssetURL)
	}
	if port := u.Port(); port != "" && port != "443" {
		return fmt.Errorf("%w: port %s is not allowed", ErrUnsafeAssetURL, port)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeAssetURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: host %s", ErrUnsafeAssetURL, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil && isInternalAddr(addr.Unmap()) {
		return fmt.Errorf("%w: address %s", ErrUnsafeAssetURL, addr)
	}
	return nil
}

// isInternalAddr は外部公開されていないアドレスかを返す。
// 169.254.169.254（クラウドメタデータ）はリンクローカルに含まれる。
func isInternalAddr(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		addr.IsMulticast() ||
		thisNetwork.Contains(addr)
}

// 0.0.0.0/8
var thisNetwork = netip.MustParsePrefix("0.0.0.0/8")
