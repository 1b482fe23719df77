// Package conversation открывает переписку с набором участников: находит существующий
// канал с точно таким же набором или создаёт новый (зашифрованный, если у всех есть устройства).
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/channel"
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/e2e"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/model"
)

var ErrNoParticipants = errors.New("conversation: no participants besides self")

// Backend — поиск и создание каналов, поиск устройств. Реализуется *api.Client.
type Backend interface {
	SearchChannels(ctx context.Context, req api.SearchChannelsRequest) ([]api.ChannelDTO, error)
	SearchDevices(ctx context.Context, gids []string) ([]model.Device, error)
	CreateChannel(ctx context.Context, req api.CreateChannelRequest) (*api.ChannelDTO, error)
	CreateEncryptedChannel(ctx context.Context, req api.CreateEncryptedChannelRequest) (*api.ChannelDTO, error)
}

// Navigator — роутинг приложения. nil — навигация не нужна (CLI).
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

type Options struct {
	GroupID  string
	FolderID string
}

type Orchestrator struct {
	store   channelstore.Repository
	backend Backend
	nav     Navigator
	norm    channel.Normalizer
	metrics *metrics.Metrics

	// NewID — генератор клиентского id канала; подменяется в тестах.
	NewID func() string

	inflight singleflight.Group
}

func New(store channelstore.Repository, backend Backend, nav Navigator, norm channel.Normalizer, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store: store, backend: backend, nav: nav, norm: norm, metrics: m,
		NewID: uuid.NewString,
	}
}

// Destination — путь канала в приложении.
func Destination(c model.Channel) string {
	if c.GroupID != "" {
		return "/groups/" + c.GroupID + "/channels/" + c.ID
	}
	return "/channels/" + c.ID
}

// CreateConversation возвращает канал для participantIDs (себя можно не указывать) и
// переходит в него. Одновременные вызовы с тем же набором и группой создают не больше одного канала.
// Ошибки поиска устройств и шифрования возвращаются как есть, без отката на открытый канал.
func (o *Orchestrator) CreateConversation(ctx context.Context, participantIDs []string, opts Options) (model.Channel, error) {
	self := o.norm.SelfGID
	others := withoutSelf(participantIDs, self)
	if len(others) == 0 {
		return model.Channel{}, ErrNoParticipants
	}
	all := append(append([]string(nil), others...), self)

	key := strings.Join(model.CanonicalParticipants(all), ",") + "|" + opts.GroupID
	v, err, shared := o.inflight.Do(key, func() (any, error) {
		return o.resolveOrCreate(ctx, others, all, opts)
	})
	if err != nil {
		return model.Channel{}, err
	}
	c := v.(model.Channel)
	if shared {
		logger.Debugf("conversation: %s resolved by a concurrent call", c.ID)
	}
	o.navigate(c)
	return c.Clone(), nil
}

func (o *Orchestrator) resolveOrCreate(ctx context.Context, others, all []string, opts Options) (model.Channel, error) {
	defer logger.DeferLogDuration("conversation.CreateConversation", time.Now())()

	if c, ok := o.store.FindChannel(all, opts.GroupID); ok {
		o.metrics.ChannelReused()
		return c, nil
	}
	typ := model.ChannelTypeFor(len(all))

	found, err := o.backend.SearchChannels(ctx, api.SearchChannelsRequest{
		Participants: all, Types: []model.ChannelType{typ}, GroupUUID: opts.GroupID,
	})
	if err != nil {
		return model.Channel{}, fmt.Errorf("conversation: search channels: %w", err)
	}
	for _, dto := range found {
		c := o.normalize(dto)
		if c.Deleted || c.GroupID != opts.GroupID || !c.SameParticipants(all) {
			continue
		}
		o.metrics.ChannelReused()
		return o.store.UpsertChannel(c), nil
	}

	devices, err := o.backend.SearchDevices(ctx, all)
	if err != nil {
		return model.Channel{}, fmt.Errorf("conversation: search devices: %w", err)
	}
	byOwner := e2e.GroupDevices(devices)

	base := api.CreateChannelRequest{
		Type: typ, UUID: o.NewID(), GroupUUID: opts.GroupID, FolderUUID: opts.FolderID,
	}
	var (
		dto        *api.ChannelDTO
		channelKey []byte
		mode       = "plain"
	)
	if everyoneHasDevice(all, byOwner) {
		mode = "encrypted"
		channelKey, err = e2e.NewChannelKey()
		if err != nil {
			return model.Channel{}, err
		}
		secrets, err := e2e.DeriveSecrets(channelKey, others, byOwner)
		if err != nil {
			return model.Channel{}, fmt.Errorf("conversation: derive secrets: %w", err)
		}
		base.Participants = others
		dto, err = o.backend.CreateEncryptedChannel(ctx, api.CreateEncryptedChannelRequest{CreateChannelRequest: base, Secrets: secrets})
		if err != nil {
			return model.Channel{}, fmt.Errorf("conversation: create encrypted channel: %w", err)
		}
	} else {
		// открытый эндпоинт не добавляет вызывающего сам
		base.Participants = all
		dto, err = o.backend.CreateChannel(ctx, base)
		if err != nil {
			return model.Channel{}, fmt.Errorf("conversation: create channel: %w", err)
		}
	}

	c := o.normalize(*dto)
	if c.ID == "" {
		c.ID = base.UUID
	}
	if len(c.Participants) == 0 {
		c.Participants = all
	}
	if c.GroupID == "" {
		c.GroupID = opts.GroupID
	}
	if c.FolderID == "" {
		c.FolderID = opts.FolderID
	}
	if channelKey != nil {
		c.Encrypted = true
	}
	o.store.AddChannel(c)
	if channelKey != nil {
		o.store.SetSecret(c.ID, channelKey)
	}
	o.metrics.ChannelCreated(mode)
	logger.Infof("conversation: created %s channel %s (%s)", mode, c.ID, c.Type)
	stored, _ := o.store.Channel(c.ID)
	return stored, nil
}

func (o *Orchestrator) normalize(dto api.ChannelDTO) model.Channel {
	o.store.UpsertMembers(dto.Members)
	return o.norm.Channel(dto, o.store)
}

func (o *Orchestrator) navigate(c model.Channel) {
	if o.nav == nil {
		return
	}
	dest := Destination(c)
	if o.nav.CurrentPath() == dest {
		return
	}
	o.nav.Navigate(dest)
}

// withoutSelf — участники без себя, пустых id и повторов, в исходном порядке.
func withoutSelf(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{self: {}, "": {}}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func everyoneHasDevice(gids []string, byOwner map[string][]model.Device) bool {
	for _, g := range gids {
		if len(byOwner[g]) == 0 {
			return false
		}
	}
	return true
}
