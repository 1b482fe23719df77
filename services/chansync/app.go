package main

import (
	"context"
	"fmt"
	"os"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/channel"
	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/config"
	"github.com/messenger/chansync/internal/conversation"
	"github.com/messenger/chansync/internal/e2e"
	"github.com/messenger/chansync/internal/encryption"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/realtime"
	"github.com/messenger/chansync/internal/startup"
	"github.com/messenger/chansync/internal/storage"
)

// app — собранные компоненты клиента. Кеш один на процесс и внедряется в каждый компонент.
type app struct {
	cfg          *config.Config
	metrics      *metrics.Metrics
	client       *api.Client
	store        *channelstore.Store
	keys         *e2e.KeyManager
	consent      storage.ConsentStore
	bootstrap    *encryption.Bootstrap
	resolver     *channel.Resolver
	orchestrator *conversation.Orchestrator
	listener     *realtime.Listener
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.SelfGID == "" {
		return nil, fmt.Errorf("self_gid is required (SELF_GID)")
	}
	m := metrics.New()
	client := api.NewClient(cfg.APIBaseURL, api.Options{
		Token:             cfg.APIToken,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             int(cfg.RequestsPerSecond),
	})
	store := channelstore.New()
	keys := e2e.NewKeyManager(cfg.DeviceKeyPath, cfg.DeviceKeyPassphrase)
	consent := startup.OpenConsentStore(ctx, cfg.Consent)
	norm := channel.Normalizer{SelfGID: cfg.SelfGID, BotGID: cfg.BotGID}

	a := &app{
		cfg: cfg, metrics: m, client: client, store: store, keys: keys, consent: consent,
		bootstrap: encryption.NewBootstrap(keys, client, consent, encryption.NotifierFunc(notify), encryption.Options{
			SelfGID:      cfg.SelfGID,
			DeviceName:   cfg.DeviceName,
			PollInterval: cfg.Consent.PollInterval,
			PollTimeout:  cfg.Consent.PollTimeout,
			Metrics:      m,
		}),
		resolver: channel.NewResolver(store, client, keys, norm, channel.Options{
			CountersPageSize: cfg.CountersPageSize,
			Metrics:          m,
		}),
		orchestrator: conversation.New(store, client, nil, norm, m),
	}
	if cfg.RealtimeURL != "" {
		a.listener = realtime.NewListener(cfg.RealtimeURL, cfg.APIToken, realtime.NewApplier(store, norm, m))
	}
	return a, nil
}

func (a *app) Close() {
	a.resolver.Wait()
	if err := a.consent.Close(); err != nil {
		logger.Errorf("consent store close: %v", err)
	}
}

// notify — пользовательское уведомление об ошибке шифрования в CLI.
func notify(err error) {
	fmt.Fprintf(os.Stderr, "encryption could not be enabled: %v\n", err)
}
