package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	twwplus "github.com/soapwong703/teamwork-wrap-plus"
)

// newLogger builds the console logger at the configured level.
func newLogger(cfg *Config, w io.Writer) (zerolog.Logger, error) {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// openStorage builds the configured draft backend.
func openStorage(cfg *Config) (twwplus.Storage, error) {
	storage, err := twwplus.BuildStorageFromDSN(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft storage: %w", err)
	}
	return storage, nil
}

func closeStorage(storage twwplus.Storage) {
	if c, ok := storage.(io.Closer); ok {
		_ = c.Close()
	}
}

func selectorsFromConfig(c ConfigSelectors) twwplus.Selectors {
	return twwplus.Selectors{
		ConversationView: c.ConversationView,
		InputBox:         c.InputBox,
		Editable:         c.Editable,
		ConversationName: c.ConversationName,
		ListContainers:   c.ListContainers,
		Rows:             c.Rows,
		RowItem:          c.RowItem,
		RowKey:           c.RowKey,
		Member:           c.Member,
		Preview:          c.Preview,
		Subject:          c.Subject,
	}.WithDefaults()
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// maskKey shows the first 4 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
