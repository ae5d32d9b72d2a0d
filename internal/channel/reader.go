// Package channel は閲覧者向けのチャンネル表示モデルを組み立てる。
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/security"
	"github.com/hitoshi/mediahook/internal/upstream"
)

// TopicService はトピックキャッシュへの取得と反映を行う能力。
type TopicService interface {
	Fetch(ctx context.Context, kind model.TopicKind, id, minID string) ([]model.MediaItem, model.Pagination, error)
	ApplyFetch(ctx context.Context, kind model.TopicKind, id string, items []model.MediaItem, page model.Pagination) (*model.Topic, error)
}

// Subscriber はトピックの購読を保証する能力。
type Subscriber interface {
	EnsureSubscribed(ctx context.Context, kind model.TopicKind, id string) (*model.Subscription, error)
}

// UserView は表示用のユーザー情報。アクセストークンは含めない。
type UserView struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Profile  json.RawMessage `json:"profile,omitempty"`
}

// RenderModel はチャンネル表示に必要なデータ。
type RenderModel struct {
	Channel   string            `json:"channel"`
	Value     string            `json:"value"`
	Media     []model.MediaItem `json:"media"`
	MinID     string            `json:"min_id,omitempty"`
	User      *UserView         `json:"user,omitempty"`
	Location  *model.Location   `json:"location,omitempty"`
	Geography *model.Geography  `json:"geography,omitempty"`
}

// HomeModel はトップページの表示データ。
type HomeModel struct {
	AuthorizationURL   string     `json:"authorization_url"`
	AuthenticatedUsers []UserView `json:"authenticated_users"`
}

// Reader はチャンネルの読み取りを行うサービス。
type Reader struct {
	topics     TopicService
	subscriber Subscriber
	client     upstream.Client
	users      repository.UserRepository
	geos       repository.GeographyRepository
	locs       repository.LocationRepository
	sanitizer  security.ContentSanitizerService
	logger     *slog.Logger
}

// NewReader はReaderの新しいインスタンスを生成する。
func NewReader(
	topics TopicService,
	subscriber Subscriber,
	client upstream.Client,
	users repository.UserRepository,
	geos repository.GeographyRepository,
	locs repository.LocationRepository,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
) *Reader {
	return &Reader{
		topics:     topics,
		subscriber: subscriber,
		client:     client,
		users:      users,
		geos:       geos,
		locs:       locs,
		sanitizer:  sanitizer,
		logger:     logger,
	}
}

// ReadChannel はチャンネルの表示モデルを返す。
// 未知のチャンネルやメタデータの無いジオグラフィは *model.APIError を返す。
// 上流の取得失敗はエラーにせず、空のメディア一覧として返す。
// ロケーションは購読やメタデータの取得に失敗してもLocationをnilのまま表示する。
func (r *Reader) ReadChannel(ctx context.Context, segment, value string) (*RenderModel, error) {
	kind, ok := model.ParseChannelKind(segment)
	if !ok || value == "" {
		return nil, model.NewUnrecognizedChannelError()
	}

	rm := &RenderModel{Channel: kind.Channel(), Value: value, Media: []model.MediaItem{}}

	switch kind {
	case model.TopicKindTag:
		r.ensureSubscribed(ctx, kind, value)
		return rm, r.fetchAndApply(ctx, rm, kind, value)

	case model.TopicKindUser:
		user, err := r.users.FindByUsername(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError(value)
		}
		rm.User = &UserView{ID: user.ID, Username: user.Username, Profile: user.Profile}

		// ユーザーのフィードはプッシュ更新のみでminIdを追跡しない
		items, _, err := r.topics.Fetch(ctx, kind, user.ID, "")
		if err != nil {
			r.logFetchError(kind, value, err)
			return rm, nil
		}
		rm.Media = r.sanitizer.SanitizeMedia(items)
		return rm, nil

	case model.TopicKindLocation:
		r.ensureSubscribed(ctx, kind, value)
		loc, err := r.locs.FindByID(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("ロケーションの取得に失敗しました: %w", err)
		}
		// メタデータが取得できていなくてもメディアは表示する
		rm.Location = loc
		return rm, r.fetchAndApply(ctx, rm, kind, value)

	case model.TopicKindGeography:
		geo, err := r.geos.FindByID(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("ジオグラフィの取得に失敗しました: %w", err)
		}
		if geo == nil {
			return nil, model.NewUnrecognizedChannelError()
		}
		rm.Geography = geo
		return rm, r.fetchAndApply(ctx, rm, kind, geo.ObjectID)
	}

	return nil, model.NewUnrecognizedChannelError()
}

// fetchAndApply は最新ページを取得してキャッシュに反映する。
// 上流の失敗はログのみで空の一覧のまま返す。ストアの失敗はエラーを返す。
func (r *Reader) fetchAndApply(ctx context.Context, rm *RenderModel, kind model.TopicKind, id string) error {
	items, page, err := r.topics.Fetch(ctx, kind, id, "")
	if err != nil {
		r.logFetchError(kind, id, err)
		return nil
	}

	t, err := r.topics.ApplyFetch(ctx, kind, id, items, page)
	if err != nil {
		return err
	}
	rm.Media = r.sanitizer.SanitizeMedia(items)
	rm.MinID = t.MinID
	return nil
}

func (r *Reader) ensureSubscribed(ctx context.Context, kind model.TopicKind, id string) {
	if _, err := r.subscriber.EnsureSubscribed(ctx, kind, id); err != nil {
		r.logger.Warn("購読の保証に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("object_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reader) logFetchError(kind model.TopicKind, id string, err error) {
	r.logger.Error("チャンネルの取得に失敗しました",
		slog.String("kind", string(kind)),
		slog.String("object_id", id),
		slog.String("error", err.Error()),
	)
}

// Home はトップページの表示モデルを返す。
// stateは認可URLに埋め込まれ、認可コールバックで照合される。
func (r *Reader) Home(ctx context.Context, state string) (*HomeModel, error) {
	users, err := r.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{ID: u.ID, Username: u.Username})
	}
	return &HomeModel{
		AuthorizationURL:   r.client.AuthorizationURL(state),
		AuthenticatedUsers: views,
	}, nil
}
