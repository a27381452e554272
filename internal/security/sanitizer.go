// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer は管理者が登録する商品説明のHTMLをサニタイズする。
// bluemondayの許可リストポリシーで、書式用のタグとhttpsリンクのみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer は商品説明のサニタイズ機能のインターフェース。
// 商品の作成・更新時に保存前に適用する。
type DescriptionSanitizer interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerを生成する。
// ポリシー:
//   - 許可タグ: p, br, ul, ol, li, strong, em, b, i, h3, h4, a
//   - aタグ: httpsのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - 画像・スクリプト・スタイル・on*属性は除去
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "b", "i", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。前後の空白は除去する。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

const maxFilenameLength = 100

// AttachmentFilename は商品タイトルからContent-Disposition用のファイル名を生成する。
// ASCII英数字以外は "_" に置き換え、".pdf" を付ける。
func AttachmentFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxFilenameLength {
			break
		}
	}
	name := b.String()
	if strings.Trim(name, "_") == "" {
		name = "download"
	}
	return name + ".pdf"
}
