package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/session"
	"github.com/bushportal/livecoding/internal/tui/components"
)

type generateOptions struct {
	outDir   string
	provider string
	quiet    bool
}

func newGenerateCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate code for a prompt in-process and stream it to the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cfg, logger, opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "write generated files under this directory")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "llm provider: openai, anthropic or scripted")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "hide streamed model text")
	return cmd
}

func runGenerate(ctx context.Context, cfg *config.Config, logger *log.Logger, opts generateOptions, prompt string, out io.Writer) error {
	stack, err := newPipeline(cfg, logger, opts.provider)
	if err != nil {
		return err
	}

	printer := &streamPrinter{out: out, showText: !opts.quiet}
	final, err := stack.orchestrator.Generate(ctx, prompt, printer.Sink())
	if err != nil && !errors.Is(err, livecoding.ErrRunTimeout) {
		return err
	}
	if final.Status != session.StatusCompleted {
		return fmt.Errorf("generation failed: %s", final.Error)
	}

	if strings.TrimSpace(opts.outDir) == "" {
		return nil
	}
	written, err := writeFiles(opts.outDir, final.Files)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

// streamPrinter renders orchestrator events as terminal lines.
type streamPrinter struct {
	out      io.Writer
	showText bool
	midLine  bool
}

func (p *streamPrinter) Sink() livecoding.Sink {
	return func(event livecoding.Event) {
		switch event.Kind {
		case livecoding.KindText:
			text, _ := event.Content.(string)
			if p.showText && text != "" {
				fmt.Fprint(p.out, components.RenderText(text))
				p.midLine = !strings.HasSuffix(text, "\n")
			}
		case livecoding.KindFile:
			if file, ok := event.Content.(session.GeneratedFile); ok {
				p.line(components.RenderFileLine(file.Path, file.Language, len(file.Content)))
			}
		case livecoding.KindComplete:
			if summary, ok := event.Content.(livecoding.CompleteSummary); ok {
				p.line(components.RenderCompletion(summary.SessionID, summary.FileCount))
			}
		case livecoding.KindError:
			message, _ := event.Content.(string)
			p.line(components.RenderFailure(message))
		}
	}
}

func (p *streamPrinter) line(text string) {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	fmt.Fprintln(p.out, text)
}

// writeFiles writes each file under root and refuses any path that would land outside it.
func writeFiles(root string, files []session.GeneratedFile) ([]string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	written := make([]string, 0, len(files))
	for _, file := range files {
		target, err := safeJoin(base, file.Path)
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return written, fmt.Errorf("create directory for %s: %w", file.Path, err)
		}
		if err := os.WriteFile(target, []byte(file.Content), 0o600); err != nil {
			return written, fmt.Errorf("write %s: %w", file.Path, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func safeJoin(base, relative string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(relative)))
	if cleaned == "." || filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return "", fmt.Errorf("refusing to write %q: path must be relative", relative)
	}
	target := filepath.Join(base, cleaned)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to write %q: path escapes the output directory", relative)
	}
	return target, nil
}
