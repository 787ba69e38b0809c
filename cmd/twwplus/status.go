package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and bridge status",
	Long:  "Display the current configuration and ask a running bridge how many pages are connected.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Listen:   %s\n", cfg.Server.Listen)
		fmt.Fprintf(out, "  Storage:  %s\n", valueOrDefault(cfg.Storage.DSN, "(memory)"))
		fmt.Fprintf(out, "  Upstream: %s\n", valueOrDefault(cfg.Server.Upstream, "(none)"))
		if cfg.Server.AuthToken != "" {
			fmt.Fprintf(out, "  Token:    %s\n", maskKey(cfg.Server.AuthToken))
		} else {
			fmt.Fprintln(out, "  Token:    (not set)")
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Bridge:")
		health, err := fetchHealth(cmd.Context(), "http://"+cfg.Server.Listen+"/healthz")
		if err != nil {
			fmt.Fprintf(out, "  not reachable (%v)\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Status:   %s\n", health.Status)
		fmt.Fprintf(out, "  Sessions: %d\n", health.Sessions)
		return nil
	},
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func fetchHealth(ctx context.Context, url string) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}
