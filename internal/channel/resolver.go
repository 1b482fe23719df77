// Package channel — задачи разрешения каналов: guard → захват ключа загрузки → вызов бэкенда →
// нормализация и запись в кеш → снятие флага. Ошибка записывается во флаг ошибки того же
// ключа и возвращается вызывающему.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/guard"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/model"
)

// Backend — операции бэкенда, нужные задачам разрешения. Реализуется *api.Client.
type Backend interface {
	GetChannel(ctx context.Context, id, deviceID string) (*api.ChannelDTO, error)
	ListChannels(ctx context.Context, p api.ListParams) (*api.ChannelsPage, error)
	ListFolders(ctx context.Context) ([]model.Folder, error)
	ListCounters(ctx context.Context, p api.ListParams) (*api.CountersPage, error)
	GetFileToken(ctx context.Context, channelID string) (string, error)
	SearchIdentities(ctx context.Context, gids []string) ([]model.Member, error)
	GetAvatar(ctx context.Context, gid string) (string, error)
	UpdateChannel(ctx context.Context, id string, req api.UpdateChannelRequest) (*api.ChannelDTO, error)
	LeaveChannel(ctx context.Context, id string) error
}

// KeyOpener — ключи устройства для зашифрованного чтения канала. Реализуется *e2e.KeyManager.
type KeyOpener interface {
	DeviceID() string
	Open(payload string) ([]byte, error)
}

var errMissingSecret = errors.New("encrypted channel without secret for this device")

type Options struct {
	CountersPageSize int
	Metrics          *metrics.Metrics
}

type Resolver struct {
	store   channelstore.Repository
	backend Backend
	keys    KeyOpener
	norm    Normalizer
	metrics *metrics.Metrics

	countersPageSize int

	// фоновые загрузки аватаров
	wg sync.WaitGroup
}

// NewResolver создаёт набор задач. keys может быть nil — тогда каналы читаются только открыто.
func NewResolver(store channelstore.Repository, backend Backend, keys KeyOpener, norm Normalizer, opts Options) *Resolver {
	if opts.CountersPageSize <= 0 {
		opts.CountersPageSize = 200
	}
	return &Resolver{
		store: store, backend: backend, keys: keys, norm: norm,
		metrics: opts.Metrics, countersPageSize: opts.CountersPageSize,
	}
}

// Wait ждёт завершения порождённых загрузок аватаров.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// claim захватывает ключ; false — задача уже выполняется и текущий вызов становится no-op.
func (r *Resolver) claim(key model.FetchKey) bool {
	if r.store.TryClaim(key) {
		return true
	}
	r.metrics.Skipped(string(key.Kind))
	logger.Debugf("resolver: %s already in flight", key)
	return false
}

// finish снимает флаг загрузки и при ошибке оборачивает её именем операции.
func (r *Resolver) finish(op string, key model.FetchKey, err error) error {
	r.store.Release(key, err)
	if err == nil {
		return nil
	}
	r.metrics.Failed(string(key.Kind))
	return fmt.Errorf("channel.%s %s: %w", op, key, err)
}

// FetchChannel читает канал целиком. Сначала зашифрованное чтение с id устройства;
// любая его ошибка — один повтор открытым чтением под тем же ключом.
func (r *Resolver) FetchChannel(ctx context.Context, id string, force bool) error {
	if !guard.ShouldFetchChannel(r.store, id, force) {
		r.metrics.Skipped(string(model.FetchChannel))
		return nil
	}
	key := model.ChannelKey(id)
	if !r.claim(key) {
		return nil
	}
	defer logger.DeferLogDuration("channel.FetchChannel", time.Now())()

	dto, secret, err := r.readChannel(ctx, id)
	if err != nil {
		return r.finish("FetchChannel", key, err)
	}
	r.store.UpsertMembers(dto.Members)
	c := r.norm.Channel(*dto, r.store)
	c.Detailed = true
	r.store.UpsertChannel(c)
	if secret != nil {
		r.store.SetSecret(id, secret)
	}
	return r.finish("FetchChannel", key, nil)
}

func (r *Resolver) readChannel(ctx context.Context, id string) (*api.ChannelDTO, []byte, error) {
	if r.keys != nil {
		if deviceID := r.keys.DeviceID(); deviceID != "" {
			r.metrics.Request(string(model.FetchChannel))
			dto, secret, err := r.readEncrypted(ctx, id, deviceID)
			if err == nil {
				return dto, secret, nil
			}
			// TODO: откатываться только на ошибку расшифровки; сейчас сетевая ошибка тоже ведёт к открытому чтению
			logger.Warnf("resolver: encrypted read of %s failed, falling back to plain read: %v", id, err)
			r.metrics.EncryptedReadFallback()
		}
	}
	r.metrics.Request(string(model.FetchChannel))
	dto, err := r.backend.GetChannel(ctx, id, "")
	if err != nil {
		return nil, nil, err
	}
	return dto, nil, nil
}

func (r *Resolver) readEncrypted(ctx context.Context, id, deviceID string) (*api.ChannelDTO, []byte, error) {
	dto, err := r.backend.GetChannel(ctx, id, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if !dto.IsEncrypted {
		return dto, nil, nil
	}
	if dto.Secret == "" {
		return nil, nil, errMissingSecret
	}
	secret, err := r.keys.Open(dto.Secret)
	if err != nil {
		return nil, nil, err
	}
	return dto, secret, nil
}

// FetchChannels загружает одну страницу списка и обновляет мету пагинации её корзины.
func (r *Resolver) FetchChannels(ctx context.Context, p guard.ChannelsParams) error {
	if !guard.ShouldFetchChannels(r.store, p) {
		r.metrics.Skipped(string(model.FetchChannels))
		return nil
	}
	key := model.ChannelsPageKey(p.Key, p.Page)
	if !r.claim(key) {
		return nil
	}
	defer logger.DeferLogDuration("channel.FetchChannels", time.Now())()

	r.metrics.Request(string(model.FetchChannels))
	page, err := r.backend.ListChannels(ctx, listParams(p))
	if err != nil {
		return r.finish("FetchChannels", key, err)
	}
	for _, dto := range page.Channels {
		r.store.UpsertMembers(dto.Members)
	}
	channels := make([]model.Channel, 0, len(page.Channels))
	for _, dto := range page.Channels {
		channels = append(channels, r.norm.Channel(dto, r.store))
	}
	r.store.UpsertChannels(channels)

	meta := model.PaginationMeta{Page: page.Page, PerPage: page.PerPage, Total: page.Total, FilteredOneOrMorePage: true}
	if meta.Page == 0 {
		meta.Page = p.Page
	}
	if meta.PerPage == 0 {
		meta.PerPage = p.PerPage
	}
	r.store.SetPaginationMeta(p.Key, meta)
	return r.finish("FetchChannels", key, nil)
}

func listParams(p guard.ChannelsParams) api.ListParams {
	lp := api.ListParams{Filter: p.Key.Filter, Page: p.Page, PerPage: p.PerPage}
	if p.GroupScoped {
		lp.GroupID = p.Key.ScopeID
	} else {
		lp.FolderID = p.Key.ScopeID
	}
	return lp
}

// FetchMembers разрешает участников канала. Уже известные каналу id не запрашиваются;
// если запрашивать нечего — возвращаются identity из кеша без сети.
func (r *Resolver) FetchMembers(ctx context.Context, channelID string, gids []string) ([]model.Member, error) {
	known := make(map[string]struct{})
	for _, g := range r.store.ChannelMemberIDs(channelID) {
		known[g] = struct{}{}
	}
	missing := make([]string, 0, len(gids))
	for _, g := range model.CanonicalParticipants(gids) {
		if _, ok := known[g]; !ok {
			missing = append(missing, g)
		}
	}
	if len(missing) == 0 {
		r.metrics.Skipped(string(model.FetchMembers))
		return r.store.Members(gids), nil
	}
	key := model.MembersKey(channelID)
	if !r.claim(key) {
		return r.store.Members(gids), nil
	}
	defer logger.DeferLogDuration("channel.FetchMembers", time.Now())()

	r.metrics.Request(string(model.FetchMembers))
	ms, err := r.backend.SearchIdentities(ctx, missing)
	if err != nil {
		return nil, r.finish("FetchMembers", key, err)
	}
	r.store.UpsertMembers(ms)
	resolved := make([]string, 0, len(ms))
	for _, m := range ms {
		resolved = append(resolved, m.GID)
	}
	r.store.MarkChannelMembers(channelID, resolved)
	r.store.Release(key, nil)

	for _, m := range ms {
		if m.AvatarURL == "" && m.GID != "" {
			r.spawnAvatar(ctx, m.GID)
		}
	}
	return r.store.Members(gids), nil
}

func (r *Resolver) spawnAvatar(ctx context.Context, gid string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// загрузка аватара переживает отмену запроса участников
		if err := r.FetchAvatar(context.WithoutCancel(ctx), gid); err != nil {
			logger.Warnf("resolver: avatar %s: %v", gid, err)
		}
	}()
}

// FetchAvatar дозагружает ссылку на аватар identity.
func (r *Resolver) FetchAvatar(ctx context.Context, gid string) error {
	key := model.AvatarKey(gid)
	if !r.claim(key) {
		return nil
	}
	r.metrics.Request(string(model.FetchAvatar))
	url, err := r.backend.GetAvatar(ctx, gid)
	if err != nil {
		return r.finish("FetchAvatar", key, err)
	}
	if url != "" {
		r.store.UpdateMember(gid, func(m *model.Member) { m.AvatarURL = url })
	}
	return r.finish("FetchAvatar", key, nil)
}

// FetchFolders загружает папки один раз за сессию.
func (r *Resolver) FetchFolders(ctx context.Context) error {
	if !guard.ShouldFetchFolders(r.store) {
		r.metrics.Skipped(string(model.FetchFolders))
		return nil
	}
	key := model.FoldersKey()
	if !r.claim(key) {
		return nil
	}
	defer logger.DeferLogDuration("channel.FetchFolders", time.Now())()

	r.metrics.Request(string(model.FetchFolders))
	fs, err := r.backend.ListFolders(ctx)
	if err != nil {
		return r.finish("FetchFolders", key, err)
	}
	r.store.SetFolders(fs)
	return r.finish("FetchFolders", key, nil)
}

func (r *Resolver) FetchFileToken(ctx context.Context, channelID string) error {
	if !guard.ShouldFetchFileToken(r.store, channelID) {
		r.metrics.Skipped(string(model.FetchFileToken))
		return nil
	}
	key := model.FileTokenKey(channelID)
	if !r.claim(key) {
		return nil
	}
	defer logger.DeferLogDuration("channel.FetchFileToken", time.Now())()

	r.metrics.Request(string(model.FetchFileToken))
	token, err := r.backend.GetFileToken(ctx, channelID)
	if err != nil {
		return r.finish("FetchFileToken", key, err)
	}
	r.store.SetFileToken(channelID, token)
	return r.finish("FetchFileToken", key, nil)
}

// FetchChannelsCounters выбирает все страницы счётчиков непрочитанных и применяет их
// к кешу одним проходом. Постраничного guard нет: захватывается один ключ на весь прогон.
func (r *Resolver) FetchChannelsCounters(ctx context.Context) error {
	key := model.CountersKey()
	if !r.claim(key) {
		return nil
	}
	defer logger.DeferLogDuration("channel.FetchChannelsCounters", time.Now())()

	var all []model.Counter
	for page := 1; ; page++ {
		r.metrics.Request(string(model.FetchCounters))
		resp, err := r.backend.ListCounters(ctx, api.ListParams{Page: page, PerPage: r.countersPageSize})
		if err != nil {
			return r.finish("FetchChannelsCounters", key, err)
		}
		all = append(all, resp.Counters...)
		meta := model.PaginationMeta{Page: page, PerPage: resp.PerPage, Total: resp.Total}
		if meta.PerPage == 0 {
			meta.PerPage = r.countersPageSize
		}
		if lastCountersPage(meta, len(resp.Counters)) {
			break
		}
	}
	n := r.store.ApplyCounters(all)
	logger.Debugf("resolver: counters applied to %d of %d channels", n, len(all))
	return r.finish("FetchChannelsCounters", key, nil)
}

// lastCountersPage: пустая или неполная страница — последняя. Total учитывается,
// только если сервер его прислал.
func lastCountersPage(meta model.PaginationMeta, n int) bool {
	if n == 0 || n < meta.PerPage {
		return true
	}
	return meta.Total > 0 && meta.IsLastPage()
}

// UpdateChannel меняет заголовок/описание и записывает ответ в кеш.
func (r *Resolver) UpdateChannel(ctx context.Context, id string, req api.UpdateChannelRequest) (model.Channel, error) {
	defer logger.DeferLogDuration("channel.UpdateChannel", time.Now())()
	dto, err := r.backend.UpdateChannel(ctx, id, req)
	if err != nil {
		return model.Channel{}, fmt.Errorf("channel.UpdateChannel %s: %w", id, err)
	}
	r.store.UpsertMembers(dto.Members)
	return r.store.UpsertChannel(r.norm.Channel(*dto, r.store)), nil
}

// LeaveChannel выходит из канала и убирает его из кеша вместе с поправкой total корзины.
func (r *Resolver) LeaveChannel(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("channel.LeaveChannel", time.Now())()
	if err := r.backend.LeaveChannel(ctx, id); err != nil {
		return fmt.Errorf("channel.LeaveChannel %s: %w", id, err)
	}
	r.store.RemoveChannel(id)
	logger.Infof("resolver: left channel %s", id)
	return nil
}

// RunCountersPoller периодически сверяет счётчики, пока не отменён ctx.
func (r *Resolver) RunCountersPoller(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.FetchChannelsCounters(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("resolver: counters poll: %v", err)
			}
		}
	}
}
