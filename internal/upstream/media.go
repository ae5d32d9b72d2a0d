package upstream

import (
	"encoding/json"

	"github.com/hitoshi/mediahook/internal/model"
)

// envelope は上流APIの共通レスポンス形式。
type envelope struct {
	Meta       meta            `json:"meta"`
	Data       json.RawMessage `json:"data"`
	Pagination pagination      `json:"pagination"`
}

type meta struct {
	Code         int    `json:"code"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

type pagination struct {
	NextURL   string `json:"next_url"`
	NextMaxID string `json:"next_max_id"`
	MinTagID  string `json:"min_tag_id"`
	MinID     string `json:"min_id"`
}

func (p pagination) toModel() model.Pagination {
	minID := p.MinTagID
	if minID == "" {
		minID = p.MinID
	}
	return model.Pagination{NextURL: p.NextURL, NextMaxID: p.NextMaxID, MinID: minID}
}

type media struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Link        string   `json:"link"`
	CreatedTime string   `json:"created_time"`
	Tags        []string `json:"tags"`
	Caption     *struct {
		Text string `json:"text"`
	} `json:"caption"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
	Images struct {
		StandardResolution struct {
			URL string `json:"url"`
		} `json:"standard_resolution"`
	} `json:"images"`
}

func (m media) toModel() model.MediaItem {
	item := model.MediaItem{
		ID:          m.ID,
		Type:        m.Type,
		Link:        m.Link,
		Username:    m.User.Username,
		ImageURL:    m.Images.StandardResolution.URL,
		Tags:        m.Tags,
		CreatedTime: m.CreatedTime,
	}
	if m.Caption != nil {
		item.Caption = m.Caption.Text
	}
	return item
}

type location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	User        json.RawMessage `json:"user"`
}

type tokenUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
