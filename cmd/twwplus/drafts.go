package main

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/cobra"

	twwplus "github.com/soapwong703/teamwork-wrap-plus"
)

var draftsPlain bool

func init() {
	rootCmd.AddCommand(draftsCmd)
	draftsCmd.AddCommand(draftsGetCmd)
	draftsCmd.AddCommand(draftsPutCmd)
	draftsCmd.AddCommand(draftsClearCmd)
	draftsCmd.AddCommand(draftsListCmd)
	draftsGetCmd.Flags().BoolVar(&draftsPlain, "plain", false, "strip markup and print plain text")
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect and edit stored drafts",
	Long:  "Read or change drafts in the configured storage. Keys are a kind tag and an id, e.g. u482 or g17.",
}

var draftsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the draft for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withStorage(func(cmd *cobra.Command, storage twwplus.Storage, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		value, ok, err := storage.Get(key)
		if err != nil {
			return fmt.Errorf("failed to read draft: %w", err)
		}
		if !ok || value == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "No draft.")
			return nil
		}
		if draftsPlain {
			value = plainText(value)
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	}),
}

var draftsPutCmd = &cobra.Command{
	Use:   "put <key> <html>",
	Short: "Store a draft for a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: withStorage(func(cmd *cobra.Command, storage twwplus.Storage, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		if err := storage.Set(key, args[1]); err != nil {
			return fmt.Errorf("failed to write draft: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved draft for %s\n", key)
		return nil
	}),
}

var draftsClearCmd = &cobra.Command{
	Use:   "clear <key>",
	Short: "Clear the draft for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withStorage(func(cmd *cobra.Command, storage twwplus.Storage, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		if err := storage.Set(key, ""); err != nil {
			return fmt.Errorf("failed to clear draft: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared draft for %s\n", key)
		return nil
	}),
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations with a draft",
	Args:  cobra.NoArgs,
	RunE: withStorage(func(cmd *cobra.Command, storage twwplus.Storage, args []string) error {
		lister, ok := storage.(interface{ Keys() ([]string, error) })
		if !ok {
			return fmt.Errorf("%w: listing keys of this storage backend", twwplus.ErrNotImplemented)
		}
		keys, err := lister.Keys()
		if err != nil {
			return fmt.Errorf("failed to list drafts: %w", err)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, ok, err := storage.Get(key)
			if err != nil || !ok || value == "" {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", key, truncate(plainText(value), 60))
		}
		return nil
	}),
}

func withStorage(run func(*cobra.Command, twwplus.Storage, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer closeStorage(storage)
		return run(cmd, storage, args)
	}
}

// parseKey accepts u<id> or g<id>.
func parseKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return "", fmt.Errorf("%w: key %q is too short", twwplus.ErrInvalidInput, raw)
	}
	switch twwplus.Kind(raw[:1]) {
	case twwplus.KindUser, twwplus.KindGroup:
		return raw, nil
	}
	return "", fmt.Errorf("%w: key %q must start with u or g", twwplus.ErrInvalidInput, raw)
}

var plainPolicy = bluemonday.StrictPolicy()

// plainText drops all markup from a draft fragment.
func plainText(fragment string) string {
	text := fragment
	for _, br := range []string{"<br>", "<br/>", "<br />", "</div>", "</p>"} {
		text = strings.ReplaceAll(text, br, br+"\n")
	}
	text = html.UnescapeString(plainPolicy.Sanitize(text))
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
