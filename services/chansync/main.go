// chansync — клиент синхронизации каналов: прогрев кеша, опрос счётчиков,
// события realtime, включение шифрования и открытие диалогов из командной строки.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/messenger/chansync/internal/config"
	"github.com/messenger/chansync/internal/conversation"
	"github.com/messenger/chansync/internal/guard"
	"github.com/messenger/chansync/internal/inspect"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/model"
)

var (
	configPath string
	logLevel   string
	openGroup  string
	openFolder string
)

var rootCmd = &cobra.Command{
	Use:   "chansync",
	Short: "Client-side channel sync cache and E2E bootstrap",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return err
			}
		}
		logger.SetPrefix("chansync")
		return nil
	},
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Warm the channel cache and keep it current until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), runSync)
	},
}

var openCmd = &cobra.Command{
	Use:   "open <gid>...",
	Short: "Find or create a conversation with the given participants",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.bootstrap.Start(ctx); err != nil {
				logger.Warnf("encryption start: %v", err)
			}
			c, err := a.orchestrator.CreateConversation(ctx, args, conversation.Options{GroupID: openGroup, FolderID: openFolder})
			if err != nil {
				return err
			}
			return printJSON(struct {
				Channel     model.Channel `json:"channel"`
				Destination string        `json:"destination"`
			}{c, conversation.Destination(c)})
		})
	},
}

var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Device encryption bootstrap",
}

var encryptionEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Register this device and wait for consent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.bootstrap.Start(ctx); err != nil {
				return err
			}
			if err := a.bootstrap.Enable(ctx); err != nil {
				return err
			}
			fmt.Println(a.bootstrap.Status())
			return nil
		})
	},
}

var encryptionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the encryption status of this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.bootstrap.Start(ctx); err != nil {
				logger.Warnf("encryption start: %v", err)
			}
			fmt.Println(a.bootstrap.Status())
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (overrides CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	openCmd.Flags().StringVar(&openGroup, "group", "", "group id to open the conversation in")
	openCmd.Flags().StringVar(&openFolder, "folder", "", "folder id for a new conversation")

	encryptionCmd.AddCommand(encryptionEnableCmd, encryptionStatusCmd)
	rootCmd.AddCommand(syncCmd, openCmd, encryptionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Flush(2 * time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp загружает конфигурацию, собирает компоненты и закрывает их после fn.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.SetLevel(level)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runSync(ctx context.Context, a *app) error {
	logger.Info("starting channel sync")
	if err := a.bootstrap.Start(ctx); err != nil {
		logger.Warnf("encryption start: %v", err)
	}
	if err := a.warmUp(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.resolver.RunCountersPoller(gctx, a.cfg.CountersPollInterval)
	})
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(gctx) })
	}
	if a.cfg.InspectAddr != "" {
		h := inspect.NewHandler(inspect.Options{
			Store:          a.store,
			Encryption:     a.bootstrap,
			Metrics:        a.metrics,
			AllowedOrigins: a.cfg.CORSAllowedOrigins,
			Token:          a.cfg.InspectToken,
		})
		g.Go(func() error { return inspect.ListenAndServe(gctx, a.cfg.InspectAddr, h) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
		return nil
	}
	return err
}

// warmUp загружает папки, первую страницу личных и групповых каналов и счётчики.
func (a *app) warmUp(ctx context.Context) error {
	if err := a.resolver.FetchFolders(ctx); err != nil {
		return err
	}
	for _, f := range []model.ChannelFilter{model.FilterDirect, model.FilterGroup} {
		p := guard.ChannelsParams{
			Key:     model.PaginationKey{Filter: f},
			Page:    1,
			PerPage: a.cfg.PageSize,
		}
		if err := a.resolver.FetchChannels(ctx, p); err != nil {
			return err
		}
	}
	if err := a.resolver.FetchChannelsCounters(ctx); err != nil {
		return err
	}
	logger.Infof("cache warmed: %d channels, %d folders", len(a.store.Channels()), len(a.store.Folders()))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
