package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/messenger/chansync/internal/model"
)

// SearchIdentities разрешает gid в проекции identity.
func (c *Client) SearchIdentities(ctx context.Context, gids []string) ([]model.Member, error) {
	var out struct {
		Identities []model.Member `json:"identities"`
	}
	req := struct {
		GIDs []string `json:"gid_uuids"`
	}{GIDs: gids}
	if err := c.do(ctx, http.MethodPost, "/identities/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Identities, nil
}

// GetAvatar возвращает ссылку на аватар identity (пустая строка — аватара нет).
func (c *Client) GetAvatar(ctx context.Context, gid string) (string, error) {
	var out struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.do(ctx, http.MethodGet, "/identities/"+url.PathEscape(gid)+"/avatar", nil, nil, &out); err != nil {
		return "", err
	}
	return out.AvatarURL, nil
}
