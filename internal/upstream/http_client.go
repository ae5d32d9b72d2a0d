package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/mediahook/internal/model"
)

// maxResponseSize は上流レスポンスの最大サイズ（4MB）。
const maxResponseSize = 4 << 20

// Options はHTTPClientの接続設定。
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// RedirectURI はOAuth認可後のコールバックURL。
	RedirectURI string
	// CallbackURL は購読通知の受信URL。
	CallbackURL string
	VerifyToken string
	// RatePerHour は1時間あたりの上流呼び出し上限。0以下で無制限。
	RatePerHour int
}

// HTTPClient は上流プラットフォームのv1 REST APIクライアント。
// 全ての呼び出しはレートリミッターを通過してから送信する。
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	opts       Options
	limiter    *rate.Limiter
}

// NewHTTPClient はHTTPClientの新しいインスタンスを生成する。
func NewHTTPClient(httpClient *http.Client, opts Options, logger *slog.Logger) *HTTPClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerHour > 0 {
		burst := opts.RatePerHour / 60
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerHour)/3600), burst)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &HTTPClient{
		httpClient: httpClient,
		logger:     logger,
		opts:       opts,
		limiter:    limiter,
	}
}

// RecentByTag はタグの最新メディアを取得する。
func (c *HTTPClient) RecentByTag(ctx context.Context, name, minID string) ([]model.MediaItem, model.Pagination, error) {
	q := c.clientQuery()
	if minID != "" {
		q.Set("min_tag_id", minID)
	}
	return c.recent(ctx, "/v1/tags/"+url.PathEscape(name)+"/media/recent", q)
}

// RecentByUser はユーザーの最新メディアを取得する。
func (c *HTTPClient) RecentByUser(ctx context.Context, userID, accessToken, minID string) ([]model.MediaItem, model.Pagination, error) {
	q := url.Values{}
	q.Set("access_token", accessToken)
	if minID != "" {
		q.Set("min_id", minID)
	}
	return c.recent(ctx, "/v1/users/"+url.PathEscape(userID)+"/media/recent", q)
}

// RecentByLocation はロケーションの最新メディアを取得する。
func (c *HTTPClient) RecentByLocation(ctx context.Context, locationID, minID string) ([]model.MediaItem, model.Pagination, error) {
	q := c.clientQuery()
	if minID != "" {
		q.Set("min_id", minID)
	}
	return c.recent(ctx, "/v1/locations/"+url.PathEscape(locationID)+"/media/recent", q)
}

// RecentByGeography はジオグラフィの最新メディアを取得する。
func (c *HTTPClient) RecentByGeography(ctx context.Context, geographyID, minID string) ([]model.MediaItem, model.Pagination, error) {
	q := c.clientQuery()
	if minID != "" {
		q.Set("min_id", minID)
	}
	return c.recent(ctx, "/v1/geographies/"+url.PathEscape(geographyID)+"/media/recent", q)
}

func (c *HTTPClient) recent(ctx context.Context, path string, q url.Values) ([]model.MediaItem, model.Pagination, error) {
	env, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, model.Pagination{}, err
	}

	var raw []media
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, model.Pagination{}, fmt.Errorf("%w: メディア一覧のパースに失敗しました: %v", ErrQueryFailed, err)
		}
	}

	items := make([]model.MediaItem, 0, len(raw))
	for _, m := range raw {
		items = append(items, m.toModel())
	}
	return items, env.Pagination.toModel(), nil
}

// Subscribe はリアルタイム購読を作成する。
func (c *HTTPClient) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscriptionHandle, error) {
	form := url.Values{}
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)
	form.Set("object", string(req.Kind))
	form.Set("aspect", "media")
	form.Set("verify_token", c.opts.VerifyToken)
	form.Set("callback_url", c.opts.CallbackURL)

	switch req.Kind {
	case model.TopicKindGeography:
		form.Set("lat", strconv.FormatFloat(req.Latitude, 'f', -1, 64))
		form.Set("lng", strconv.FormatFloat(req.Longitude, 'f', -1, 64))
		form.Set("radius", strconv.Itoa(req.Radius))
	case model.TopicKindTag, model.TopicKindLocation:
		form.Set("object_id", req.ObjectID)
	case model.TopicKindUser:
	default:
		return nil, fmt.Errorf("未知のトピック種別です: %s", req.Kind)
	}

	env, err := c.do(ctx, http.MethodPost, "/v1/subscriptions", nil, form)
	if err != nil {
		return nil, err
	}

	var handle SubscriptionHandle
	if err := json.Unmarshal(env.Data, &handle); err != nil {
		return nil, fmt.Errorf("%w: 購読レスポンスのパースに失敗しました: %v", ErrQueryFailed, err)
	}
	handle.Raw = env.Data
	return &handle, nil
}

// UnsubscribeAll は指定スコープの購読を全て解除する。
func (c *HTTPClient) UnsubscribeAll(ctx context.Context, scope string) error {
	q := url.Values{}
	q.Set("client_id", c.opts.ClientID)
	q.Set("client_secret", c.opts.ClientSecret)
	q.Set("object", scope)
	_, err := c.do(ctx, http.MethodDelete, "/v1/subscriptions", q, nil)
	return err
}

// LocationInfo はロケーションのメタデータを取得する。
func (c *HTTPClient) LocationInfo(ctx context.Context, locationID string) (*model.Location, error) {
	env, err := c.do(ctx, http.MethodGet, "/v1/locations/"+url.PathEscape(locationID), c.clientQuery(), nil)
	if err != nil {
		return nil, err
	}
	var loc location
	if err := json.Unmarshal(env.Data, &loc); err != nil {
		return nil, fmt.Errorf("%w: ロケーションのパースに失敗しました: %v", ErrQueryFailed, err)
	}
	return &model.Location{
		ID:        locationID,
		Name:      loc.Name,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Raw:       env.Data,
	}, nil
}

// AuthorizationURL はユーザー認可画面のURLを返す。
func (c *HTTPClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.opts.ClientID)
	q.Set("redirect_uri", c.opts.RedirectURI)
	q.Set("response_type", "code")
	if state != "" {
		q.Set("state", state)
	}
	return c.opts.BaseURL + "/oauth/authorize/?" + q.Encode()
}

// ExchangeCode は認可コードをアクセストークンとユーザー情報に交換する。
// トークンエンドポイントはenvelope形式ではなくトークンを直接返す。
func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*model.AuthenticatedUser, error) {
	form := url.Values{}
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.opts.RedirectURI)
	form.Set("code", code)

	body, status, err := c.send(ctx, http.MethodPost, "/oauth/access_token", nil, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeError(status, body)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: トークンレスポンスのパースに失敗しました: %v", ErrQueryFailed, err)
	}
	var user tokenUser
	if err := json.Unmarshal(token.User, &user); err != nil {
		return nil, fmt.Errorf("%w: ユーザー情報のパースに失敗しました: %v", ErrQueryFailed, err)
	}
	if token.AccessToken == "" || user.ID == "" || user.Username == "" {
		return nil, &Error{StatusCode: status, Message: "アクセストークンまたはユーザー情報が含まれていません"}
	}

	return &model.AuthenticatedUser{
		ID:          user.ID,
		Username:    user.Username,
		AccessToken: token.AccessToken,
		Profile:     token.User,
		CreatedAt:   time.Now(),
	}, nil
}

func (c *HTTPClient) clientQuery() url.Values {
	q := url.Values{}
	q.Set("client_id", c.opts.ClientID)
	return q
}

// do はリクエストを送信し、envelopeをデコードする。
// meta.codeが200以外の場合はErrorを返す。
func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, form url.Values) (*envelope, error) {
	body, status, err := c.send(ctx, method, path, q, form)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Error("上流APIのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.Int("http_status", status),
			slog.String("error", err.Error()),
		)
		return nil, &Error{StatusCode: status, Message: "レスポンスJSONのパースに失敗しました"}
	}

	if status != http.StatusOK || (env.Meta.Code != 0 && env.Meta.Code != http.StatusOK) {
		apiErr := &Error{StatusCode: status, Type: env.Meta.ErrorType, Message: env.Meta.ErrorMessage}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		c.logger.Error("上流APIがエラーを返しました",
			slog.String("path", path),
			slog.Int("http_status", status),
			slog.String("error_type", apiErr.Type),
			slog.String("error_message", apiErr.Message),
		)
		return nil, apiErr
	}
	return &env, nil
}

// send はレートリミッターを待機してからHTTPリクエストを送信し、ボディを返す。
func (c *HTTPClient) send(ctx context.Context, method, path string, q url.Values, form url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: レート制限の待機に失敗しました: %v", ErrQueryFailed, err)
	}

	reqURL := c.opts.BaseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Mediahook/1.0")
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("上流APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %v", ErrQueryFailed, err)
	}
	return body, resp.StatusCode, nil
}

func decodeError(status int, body []byte) error {
	var e struct {
		ErrorType    string `json:"error_type"`
		ErrorMessage string `json:"error_message"`
		Meta         meta   `json:"meta"`
	}
	_ = json.Unmarshal(body, &e)
	apiErr := &Error{StatusCode: status, Type: e.ErrorType, Message: e.ErrorMessage}
	if apiErr.Type == "" {
		apiErr.Type = e.Meta.ErrorType
		apiErr.Message = e.Meta.ErrorMessage
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

var _ Client = (*HTTPClient)(nil)
