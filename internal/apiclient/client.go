// Package apiclient はマーケットプレイスREST APIのクライアントを提供する。
// すべてのバックエンド呼び出しはこのパッケージの Client.Request を経由する。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL はAPI_BASE_URL未設定時の接続先。
const DefaultBaseURL = "http://localhost:8000"

// Recorder はAPI呼び出しの結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordAPIRequest(method string, status int, duration time.Duration)
}

// Client はマーケットプレイスAPIのクライアント。
// リトライ、キャッシュ、明示的なタイムアウトは持たない。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	recorder   Recorder
}

// Option はClientの任意設定。
type Option func(*Client)

// WithRecorder はAPI呼び出しの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// New はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使用する。
func New(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOptions はRequestの呼び出しオプション。
type RequestOptions struct {
	// Method はHTTPメソッド。空の場合はGET。
	Method string
	// Body はJSONとして送信する値。nilの場合はボディなし。
	Body any
	// AccessToken が空でない場合のみAuthorizationヘッダーを付与する。
	AccessToken string
	// Headers は既定ヘッダーの後に適用される追加ヘッダー。
	Headers map[string]string
}

// Request はAPIを呼び出し、レスポンスボディを解釈して返す。
// 204または空ボディはnil、JSONとして解釈できないボディは文字列をそのまま返す。
// 2xx以外のステータスは *Error を返す。
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) (any, error) {
	body, err := c.roundTrip(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return parseBody(body), nil
}

// requestJSON はAPIを呼び出し、レスポンスボディをoutにデコードする。
// ボディが空の場合、outは変更しない。
func (c *Client) requestJSON(ctx context.Context, path string, opts RequestOptions, out any) error {
	body, err := c.roundTrip(ctx, path, opts)
	if err != nil {
		return err
	}
	if len(body) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました (%s): %w", path, err)
	}
	return nil
}

// roundTrip は1回のHTTP往復を行い、成功時はボディを返す。
// 204の場合はnilを返す。
func (c *Client) roundTrip(ctx context.Context, path string, opts RequestOptions) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.AccessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(method, 0, start)
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("APIの呼び出しに失敗しました (%s %s): %w", method, path, err)
	}
	defer resp.Body.Close()
	c.record(method, resp.StatusCode, start)

	var body []byte
	if resp.StatusCode != http.StatusNoContent {
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newError(resp.StatusCode, body)
		c.logger.Warn("APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return nil, apiErr
	}

	return body, nil
}

func (c *Client) record(method string, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(method, status, time.Since(start))
	}
}

// parseBody はレスポンスボディをJSONとして解釈する。
// 空ボディはnil、JSONでない場合は生の文字列を返す。
func parseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
