// Package geocode は住所文字列を緯度経度に変換する外部ジオコーダーとの境界を提供する。
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultEndpoint はGoogle Geocoding APIのエンドポイント。
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// ErrNoResult は住所に一致する結果が無いことを表す。
var ErrNoResult = errors.New("no geocoding result")

// Result はジオコーディング結果。
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
}

// Geocoder は住所を座標に変換する能力。
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Client はGoogle Geocoding API形式のJSONを返すジオコーダーのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはSSRF対策済みのクライアントを渡すこと。
func NewClient(httpClient *http.Client, endpoint, apiKey string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode は住所を座標に変換する。先頭の結果を採用する。
func (c *Client) Geocode(ctx context.Context, address string) (*Result, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ジオコーダーの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ジオコーダーの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ジオコーダーがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	switch r.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, fmt.Errorf("%w: %s", ErrNoResult, address)
	default:
		c.logger.Error("ジオコーダーがエラーを返しました",
			slog.String("status", r.Status),
			slog.String("error_message", r.ErrorMessage),
		)
		return nil, fmt.Errorf("ジオコーダーエラー: %s %s", r.Status, r.ErrorMessage)
	}
	if len(r.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, address)
	}

	first := r.Results[0]
	return &Result{
		Latitude:         first.Geometry.Location.Lat,
		Longitude:        first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}, nil
}

var _ Geocoder = (*Client)(nil)
