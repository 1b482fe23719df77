package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/messenger/chansync/internal/model"
)

// ChannelDTO — канал в ответе бэкенда до нормализации.
type ChannelDTO struct {
	UUID         string            `json:"uuid"`
	Type         model.ChannelType `json:"type"`
	Participants []string          `json:"participants"`
	GroupUUID    string            `json:"group_uuid,omitempty"`
	FolderUUID   string            `json:"folder_uuid,omitempty"`
	IsDeleted    bool              `json:"is_deleted"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	LastMessage  *model.Message    `json:"last_message,omitempty"`
	UnreadCount  int               `json:"unread_count"`
	Permissions  model.Permissions `json:"permissions"`
	IsEncrypted  bool              `json:"is_encrypted"`
	// Secret — только в зашифрованном варианте: секрет канала для устройства device_id.
	Secret       string            `json:"secret,omitempty"`
	Members      []model.Member    `json:"members,omitempty"`
}

// ListParams — фильтры и страница списка каналов.
type ListParams struct {
	Filter   model.ChannelFilter
	FolderID string
	GroupID  string
	Page     int
	PerPage  int
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.Filter != "" && p.Filter != model.FilterAll {
		q.Set("type", string(p.Filter))
	}
	if p.FolderID != "" {
		q.Set("folder_uuid", p.FolderID)
	}
	if p.GroupID != "" {
		q.Set("group_uuid", p.GroupID)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	return q
}

type ChannelsPage struct {
	Channels []ChannelDTO `json:"channels"`
	Page     int          `json:"page"`
	PerPage  int          `json:"per_page"`
	Total    int          `json:"total"`
}

type CountersPage struct {
	Counters []model.Counter `json:"counters"`
	Page     int             `json:"page"`
	PerPage  int             `json:"per_page"`
	Total    int             `json:"total"`
}

type CreateChannelRequest struct {
	Participants []string          `json:"participants"`
	Type         model.ChannelType `json:"type"`
	UUID         string            `json:"uuid"`
	GroupUUID    string            `json:"group_uuid,omitempty"`
	FolderUUID   string            `json:"folder_uuid,omitempty"`
}

type CreateEncryptedChannelRequest struct {
	CreateChannelRequest
	Secrets []model.Secret `json:"secrets"`
}

type SearchChannelsRequest struct {
	Participants []string            `json:"participants"`
	Types        []model.ChannelType `json:"types"`
	GroupUUID    string              `json:"group_uuid,omitempty"`
}

type UpdateChannelRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// GetChannel читает канал. Непустой deviceID запрашивает зашифрованный вариант.
func (c *Client) GetChannel(ctx context.Context, id, deviceID string) (*ChannelDTO, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	var out ChannelDTO
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(id), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListChannels(ctx context.Context, p ListParams) (*ChannelsPage, error) {
	var out ChannelsPage
	if err := c.do(ctx, http.MethodGet, "/channels", p.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFolders(ctx context.Context) ([]model.Folder, error) {
	var out struct {
		Folders []model.Folder `json:"folders"`
	}
	if err := c.do(ctx, http.MethodGet, "/folders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

func (c *Client) ListCounters(ctx context.Context, p ListParams) (*CountersPage, error) {
	var out CountersPage
	if err := c.do(ctx, http.MethodGet, "/channels/counters", p.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFileToken(ctx context.Context, channelID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/file-token", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (*ChannelDTO, error) {
	var out ChannelDTO
	if err := c.do(ctx, http.MethodPost, "/channels", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateEncryptedChannel(ctx context.Context, req CreateEncryptedChannelRequest) (*ChannelDTO, error) {
	var out ChannelDTO
	if err := c.do(ctx, http.MethodPost, "/channels/encrypted", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchChannels ищет существующие каналы по участникам. Пустой результат — не ошибка.
func (c *Client) SearchChannels(ctx context.Context, req SearchChannelsRequest) ([]ChannelDTO, error) {
	var out struct {
		Channels []ChannelDTO `json:"channels"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func (c *Client) UpdateChannel(ctx context.Context, id string, req UpdateChannelRequest) (*ChannelDTO, error) {
	var out ChannelDTO
	if err := c.do(ctx, http.MethodPatch, "/channels/"+url.PathEscape(id), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LeaveChannel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(id)+"/leave", nil, struct{}{}, nil)
}
