// Package asset はアセットストア（Cloudinary等）からPDFを取得する。
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const userAgent = "vocabstore-asset-fetcher/1.0"

// ErrUnavailable はアセットストアから取得できなかったことを表す。
var ErrUnavailable = errors.New("asset unavailable")

// ErrTooLarge はアセットが上限サイズを超えたことを表す。
var ErrTooLarge = errors.New("asset exceeds size limit")

// Object は取得中のアセット。呼び出し側でBodyを閉じる。
type Object struct {
	Body          io.ReadCloser
	ContentLength int64 // 不明な場合は-1
}

// Fetcher はアセットをストリームで取得する。
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// NewFetcher はFetcherを生成する。clientにはSSRF防止付きのクライアントを渡す。
func NewFetcher(client *http.Client, maxSize int64) *Fetcher {
	return &Fetcher{client: client, maxSize: maxSize}
}

// Fetch はURLのアセットを取得する。ステータスが200以外の場合はErrUnavailableを返す。
// 宣言サイズが上限を超える場合はErrTooLargeを返し、
// 宣言がない場合は読み込み中に上限を超えた時点でErrTooLargeを返す。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if f.maxSize > 0 && resp.ContentLength > f.maxSize {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	body := resp.Body
	if f.maxSize > 0 {
		body = &limitedBody{rc: resp.Body, remaining: f.maxSize}
	}
	return &Object{Body: body, ContentLength: resp.ContentLength}, nil
}

// limitedBody は上限を超えて読み込もうとした時点でErrTooLargeを返す。
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// 上限ちょうどで終わっているかを確認する
		var peek [1]byte
		n, err := l.rc.Read(peek[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedBody) Close() error {
	return l.rc.Close()
}
