package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/messenger/chansync/internal/model"
)

type RegisterDeviceRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// RegisterDeviceResponse — новое устройство и идентификатор согласия, которое
// пользователь должен подтвердить на уже доверенном устройстве.
type RegisterDeviceResponse struct {
	Device    model.Device `json:"device"`
	ConsentID string       `json:"consent_id"`
}

type ConsentResult struct {
	Status   model.ConsentStatus `json:"status"`
	DeviceID string              `json:"device_id,omitempty"`
}

func (c *Client) OwnDevices(ctx context.Context) ([]model.Device, error) {
	var out struct {
		Devices []model.Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/own", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// SearchDevices возвращает зарегистрированные устройства указанных пользователей.
func (c *Client) SearchDevices(ctx context.Context, gids []string) ([]model.Device, error) {
	var out struct {
		Devices []model.Device `json:"devices"`
	}
	req := struct {
		GIDs []string `json:"gid_uuids"`
	}{GIDs: gids}
	if err := c.do(ctx, http.MethodPost, "/devices/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*RegisterDeviceResponse, error) {
	var out RegisterDeviceResponse
	if err := c.do(ctx, http.MethodPost, "/devices", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollConsent опрашивает состояние согласия. Пока согласие не подтверждено,
// возвращает ошибку, для которой errors.Is(err, ErrConsentPending) == true.
func (c *Client) PollConsent(ctx context.Context, consentID string) (*ConsentResult, error) {
	var out ConsentResult
	req := struct {
		ConsentID string `json:"consent_id"`
	}{ConsentID: consentID}
	status, err := c.call(ctx, http.MethodPost, "/consent/poll", nil, req, &out)
	if err != nil {
		return nil, err
	}
	// 202 (с телом или без) и status=pending — тоже «ещё не подтверждено»
	if status == http.StatusAccepted || out.Status == model.ConsentPending || out.Status == "" {
		return nil, fmt.Errorf("api POST /consent/poll: %w", ErrConsentPending)
	}
	return &out, nil
}
