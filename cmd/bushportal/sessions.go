package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/session"
	"github.com/bushportal/livecoding/internal/tui/components"
)

const sessionsRequestTimeout = 15 * time.Second

type sessionsOptions struct {
	baseURL string
	width   int
}

func newSessionsCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := sessionsOptions{}
	cmd := &cobra.Command{
		Use:   "sessions [sessionId]",
		Short: "List sessions on a running server, or show one session's files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := opts.baseURL
			if strings.TrimSpace(baseURL) == "" {
				baseURL = defaultBaseURL(cfg)
			}
			client := &http.Client{Timeout: sessionsRequestTimeout}
			logger.Debug("querying sessions", "url", baseURL)
			if len(args) == 1 {
				return showSession(cmd.Context(), client, baseURL, args[0], cmd.OutOrStdout())
			}
			return listSessions(cmd.Context(), client, baseURL, opts.width, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "", "server base URL (default from server.addr)")
	cmd.Flags().IntVar(&opts.width, "width", 0, "line width for the listing")
	return cmd
}

func listSessions(ctx context.Context, client *http.Client, baseURL string, width int, out io.Writer) error {
	endpoint, err := apiURL(baseURL, "sessions")
	if err != nil {
		return err
	}
	var summaries []session.Summary
	if err := getJSON(ctx, client, endpoint, &summaries); err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, summary := range summaries {
		fmt.Fprintln(out, components.RenderSessionRow(components.SessionRow{
			ID:        summary.ID,
			Prompt:    summary.Prompt,
			Status:    string(summary.Status),
			FileCount: summary.FileCount,
			StartedAt: summary.StartedAt,
		}, width))
	}
	return nil
}

func showSession(ctx context.Context, client *http.Client, baseURL, id string, out io.Writer) error {
	endpoint, err := apiURL(baseURL, "sessions", strings.TrimSpace(id))
	if err != nil {
		return err
	}
	var found session.CodingSession
	if err := getJSON(ctx, client, endpoint, &found); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", components.RenderStatusBadge(string(found.Status), components.WithBadgeBold(true)), found.ID)
	fmt.Fprintf(out, "prompt: %s\n", found.Prompt)
	if found.Error != "" {
		fmt.Fprintln(out, components.RenderFailure(found.Error))
	}
	for _, file := range found.Files {
		fmt.Fprintln(out, components.RenderFileLine(file.Path, file.Language, len(file.Content)))
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error == "" {
			failure.Error = resp.Status
		}
		return fmt.Errorf("get %s: %s", endpoint, failure.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
