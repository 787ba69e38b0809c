package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	twwplus "github.com/soapwong703/teamwork-wrap-plus"
)

var (
	serveListen  string
	serveStorage string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveStorage, "storage", "", "draft storage DSN (overrides storage.dsn)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the page bridge",
	Long:  "Accept page bridge connections on /ws and keep drafts for every connected page.\nWith server.upstream set, /tap/ proxies the chat API and feeds its responses to the newest page.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if serveListen != "" {
			cfg.Server.Listen = serveListen
		}
		if serveStorage != "" {
			cfg.Storage.DSN = serveStorage
		}

		logger, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		bridgeCfg, err := bridgeConfig(cfg)
		if err != nil {
			return err
		}
		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer closeStorage(storage)
		bridgeCfg.Storage = storage
		bridgeCfg.Logger = logger

		bridge := twwplus.NewBridgeServer(bridgeCfg)
		srv := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           bridge.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info().
			Str("listen", cfg.Server.Listen).
			Str("storage", valueOrDefault(cfg.Storage.DSN, "memory")).
			Bool("tap", bridgeCfg.Upstream != nil).
			Msg("page bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

// bridgeConfig translates the CLI config, without storage or logger.
func bridgeConfig(cfg *Config) (twwplus.BridgeConfig, error) {
	out := twwplus.BridgeConfig{
		AuthToken:      cfg.Server.AuthToken,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Selectors:      selectorsFromConfig(cfg.Selectors),
	}
	var err error
	if out.DraftDebounce, err = parseDuration(cfg.Timing.DraftDebounce); err != nil {
		return out, err
	}
	if out.ReconcileDebounce, err = parseDuration(cfg.Timing.ReconcileDebounce); err != nil {
		return out, err
	}
	if out.FrameInterval, err = parseDuration(cfg.Timing.FrameInterval); err != nil {
		return out, err
	}
	if cfg.Server.Upstream != "" {
		u, err := url.Parse(cfg.Server.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return out, fmt.Errorf("invalid server.upstream %q", cfg.Server.Upstream)
		}
		out.Upstream = u
	}
	return out, nil
}
