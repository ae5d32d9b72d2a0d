package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mediahook/internal/channel"
	"github.com/hitoshi/mediahook/internal/geocode"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/subscription"
)

// MaxGeographyRadius は上流が受け付ける半径の上限（メートル）。
const MaxGeographyRadius = 5000

const maxFormBytes = 64 << 10

// ChannelReader はチャンネルの表示モデルを組み立てる能力。
type ChannelReader interface {
	ReadChannel(ctx context.Context, segment, value string) (*channel.RenderModel, error)
}

// GeographyCreator は地理領域の購読を作成する能力。
type GeographyCreator interface {
	CreateGeography(ctx context.Context, req subscription.GeographyRequest) (*model.Geography, error)
}

// ChannelHandler はチャンネル閲覧と地理領域登録のHTTPハンドラー。
type ChannelHandler struct {
	reader   ChannelReader
	creator  GeographyCreator
	geocoder geocode.Geocoder
	logger   *slog.Logger
}

// NewChannelHandler はChannelHandlerを生成する。geocoderはnilでもよく、その場合は住所指定を受け付けない。
func NewChannelHandler(reader ChannelReader, creator GeographyCreator, geocoder geocode.Geocoder, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{
		reader:   reader,
		creator:  creator,
		geocoder: geocoder,
		logger:   logger,
	}
}

// geographyRequest は地理領域登録リクエストのボディ。
type geographyRequest struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Radius  int      `json:"radius"`
}

// Read はチャンネルの表示モデルを返す。
// GET /channel/{kind}/{value}
func (h *ChannelHandler) Read(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	value := chi.URLParam(r, "value")

	rm, err := h.reader.ReadChannel(r.Context(), kind, value)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// CreateGeography は住所または緯度経度から地理領域の購読を作成し、そのチャンネルへリダイレクトする。
// POST /channel/geographies
func (h *ChannelHandler) CreateGeography(w http.ResponseWriter, r *http.Request) {
	req, err := parseGeographyRequest(w, r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	greq := subscription.GeographyRequest{Name: req.Name, Radius: req.Radius}

	switch {
	case strings.TrimSpace(req.Address) != "":
		if h.geocoder == nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("住所による登録は無効です"))
			return
		}
		res, err := h.geocoder.Geocode(r.Context(), req.Address)
		if errors.Is(err, geocode.ErrNoResult) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("住所が見つかりません"))
			return
		}
		if err != nil {
			h.logger.Warn("geocoding failed",
				slog.String("address", req.Address),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamQueryFailedError("geocoder"))
			return
		}
		greq.Latitude, greq.Longitude = res.Latitude, res.Longitude
		if greq.Name == "" {
			greq.Name = res.FormattedAddress
		}
	case req.Lat != nil && req.Lng != nil:
		greq.Latitude, greq.Longitude = *req.Lat, *req.Lng
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("addressまたはlatとlngを指定してください"))
		return
	}

	if msg := validateCoordinates(greq); msg != "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(msg))
		return
	}

	geo, err := h.creator.CreateGeography(r.Context(), greq)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	location := "/channel/" + model.TopicKindGeography.Channel() + "/" + url.PathEscape(geo.ObjectID)
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// parseGeographyRequest はJSONまたはフォームのリクエストを解析する。
func parseGeographyRequest(w http.ResponseWriter, r *http.Request) (*geographyRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req geographyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("リクエストボディの解析に失敗しました")
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, errors.New("フォームの解析に失敗しました")
	}
	req := &geographyRequest{
		Name:    r.PostForm.Get("name"),
		Address: r.PostForm.Get("address"),
	}
	if v := r.PostForm.Get("lat"); v != "" {
		lat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("latが数値ではありません")
		}
		req.Lat = &lat
	}
	if v := r.PostForm.Get("lng"); v != "" {
		lng, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("lngが数値ではありません")
		}
		req.Lng = &lng
	}
	if v := r.PostForm.Get("radius"); v != "" {
		radius, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("radiusが整数ではありません")
		}
		req.Radius = radius
	}
	return req, nil
}

func validateCoordinates(req subscription.GeographyRequest) string {
	switch {
	case math.IsNaN(req.Latitude) || req.Latitude < -90 || req.Latitude > 90:
		return "latは-90から90の範囲で指定してください"
	case math.IsNaN(req.Longitude) || req.Longitude < -180 || req.Longitude > 180:
		return "lngは-180から180の範囲で指定してください"
	case req.Radius < 0 || req.Radius > MaxGeographyRadius:
		return "radiusは0から5000の範囲で指定してください"
	}
	return ""
}
