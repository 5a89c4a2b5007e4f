package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10" validate:"gte=1,lte=250"` // Min 1, Max 250
}

type Cursor struct {
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildPage trims a result set fetched with one extra row down to the
// page size and derives page info from the trimmed tail.
func BuildPage[T any](data []T, pageSize int, cursorOf func(T) Cursor) ([]T, *PageInfo) {
	if pageSize <= 0 {
		pageSize = 10
	}
	if len(data) <= pageSize {
		return data, &PageInfo{HasMore: false}
	}

	data = data[:pageSize]
	token, err := EncodeCursor(cursorOf(data[len(data)-1]))
	if err != nil {
		return data, &PageInfo{HasMore: true}
	}
	return data, &PageInfo{HasMore: true, NextPageToken: token}
}
