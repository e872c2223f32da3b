package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var (
		addr    string
		handles []uint
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Ask a running agent to fetch host PDRs",
		Long: `Starts a fetch cycle on a running agent through its status endpoint.
Without --handles the whole host repository is fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.HTTP.Listen
			}
			return requestFetch(cmd, addr, handles)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "agent status address (default from config)")
	cmd.Flags().UintSliceVar(&handles, "handles", nil, "record handles to fetch, comma separated")
	return cmd
}

func requestFetch(cmd *cobra.Command, addr string, handles []uint) error {
	u := url.URL{Scheme: "http", Host: addr, Path: "/fetch"}
	if len(handles) > 0 {
		parts := make([]string, len(handles))
		for i, h := range handles {
			parts[i] = fmt.Sprint(h)
		}
		u.RawQuery = url.Values{"handles": {strings.Join(parts, ",")}}.Encode()
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request fetch: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent refused fetch (%s): %v", resp.Status, body["error"])
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Fetch started")
	return nil
}
