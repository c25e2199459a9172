package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/server"
	"github.com/bushportal/livecoding/internal/session"
	"github.com/bushportal/livecoding/internal/tui/components"
)

type watchOptions struct {
	baseURL string
	prompt  string
}

// wireFrame is the union of server frames the watcher reads.
type wireFrame struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	Prompt    string                 `json:"prompt"`
	Message   string                 `json:"message"`
	Content   json.RawMessage        `json:"content"`
	Session   *session.CodingSession `json:"session"`
}

func newWatchCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [sessionId]",
		Short: "Follow a session's live stream over WebSocket",
		Long: "Follow a session's live stream over WebSocket. Pass a session id to subscribe to a\n" +
			"running session, or --prompt to start a new one on the server.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			return runWatch(cmd.Context(), cfg, logger, opts, sessionID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "", "server base URL (default from server.addr)")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "start a new session with this prompt")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, logger *log.Logger, opts watchOptions, sessionID string, out io.Writer) error {
	sessionID = strings.TrimSpace(sessionID)
	prompt := strings.TrimSpace(opts.prompt)
	if (sessionID == "") == (prompt == "") {
		return errors.New("pass exactly one of a session id or --prompt")
	}

	baseURL := opts.baseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL(cfg)
	}
	target, err := webSocketURL(baseURL, cfg.Server.WebSocketPath)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	logger.Debug("watch connected", "url", target, "session_id", sessionID)

	first := server.InboundMessage{Type: server.TypeSubscribe, SessionID: sessionID}
	if prompt != "" {
		first = server.InboundMessage{Type: server.TypeStartCoding, Prompt: prompt}
	}
	if err := conn.WriteJSON(first); err != nil {
		return fmt.Errorf("send %s: %w", first.Type, err)
	}
	// Subscribers only see future events, so check whether the session has already finished.
	if sessionID != "" {
		if err := conn.WriteJSON(server.InboundMessage{Type: server.TypeGetSession, SessionID: sessionID}); err != nil {
			return fmt.Errorf("send %s: %w", server.TypeGetSession, err)
		}
	}

	printer := &framePrinter{out: out, sessionID: sessionID}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		done, err := printer.handle(frame)
		if done || err != nil {
			return err
		}
	}
}

// framePrinter renders wire frames for one session and reports when the stream has ended.
type framePrinter struct {
	out       io.Writer
	sessionID string
	midLine   bool
}

func (p *framePrinter) handle(frame wireFrame) (bool, error) {
	switch frame.Type {
	case server.TypeSessionStarted:
		p.sessionID = frame.SessionID
		p.line(components.RenderStatusBadge(string(session.StatusActive)) + " " + frame.SessionID)
		return false, nil
	case server.TypeSessionData:
		return p.snapshot(frame.Session)
	case server.TypeError:
		return true, fmt.Errorf("server error: %s", frame.Message)
	}

	if !strings.HasPrefix(frame.Type, "stream_") || frame.SessionID != p.sessionID {
		return false, nil
	}
	switch strings.TrimPrefix(frame.Type, "stream_") {
	case "text":
		var text string
		if err := json.Unmarshal(frame.Content, &text); err == nil && text != "" {
			fmt.Fprint(p.out, components.RenderText(text))
			p.midLine = !strings.HasSuffix(text, "\n")
		}
	case "file":
		var file session.GeneratedFile
		if err := json.Unmarshal(frame.Content, &file); err == nil {
			p.line(components.RenderFileLine(file.Path, file.Language, len(file.Content)))
		}
	case "complete":
		var summary struct {
			FileCount int `json:"fileCount"`
		}
		_ = json.Unmarshal(frame.Content, &summary)
		p.line(components.RenderCompletion(frame.SessionID, summary.FileCount))
		return true, nil
	case "error":
		var message string
		_ = json.Unmarshal(frame.Content, &message)
		p.line(components.RenderFailure(message))
		return true, fmt.Errorf("generation failed: %s", message)
	}
	return false, nil
}

// snapshot prints a session that finished before the subscription took effect.
func (p *framePrinter) snapshot(found *session.CodingSession) (bool, error) {
	if found == nil || found.ID != p.sessionID || !found.Status.Terminal() {
		return false, nil
	}
	for _, file := range found.Files {
		p.line(components.RenderFileLine(file.Path, file.Language, len(file.Content)))
	}
	if found.Status == session.StatusError {
		p.line(components.RenderFailure(found.Error))
		return true, fmt.Errorf("generation failed: %s", found.Error)
	}
	p.line(components.RenderCompletion(found.ID, len(found.Files)))
	return true, nil
}

func (p *framePrinter) line(text string) {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	fmt.Fprintln(p.out, text)
}
