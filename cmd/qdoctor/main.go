package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kirillkom/clinical-rag-assistant/internal/bootstrap"
	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// BadgerDB allows one process per directory, so ask and repl cannot share
// the API's cache directory.
const cacheNote = "Opens the answer cache. With CACHE_BACKEND=badger and the API running, " +
	"set CACHE_PATH to a separate directory or CACHE_BACKEND=none."

func newApp() *cli.App {
	return &cli.App{
		Name:  "qdoctor",
		Usage: "Grounded question answering over a mental-health knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Rebuild the chunk corpus from a knowledge base directory",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "path",
						Aliases: []string{"p"},
						Usage:   "Knowledge base directory (defaults to KB_PATH)",
					},
				},
			},
			{
				Name:        "ask",
				Usage:       "Answer a single question",
				ArgsUsage:   "<question>",
				Description: cacheNote,
				Action:      askCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full pipeline result as JSON",
					},
				},
			},
			{
				Name:        "repl",
				Usage:       "Interactive question loop; type quit or exit to leave",
				Description: cacheNote,
				Action:      replCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	slog.SetDefault(logging.NewCLILogger("qdoctor", c.String("log-level"), os.Stderr))
	return nil
}

// withApp loads configuration, wires the application and hands it to fn.
// Signals cancel the context passed to fn.
func withApp(c *cli.Context, opts bootstrap.Options, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.Service = "qdoctor"
	opts.Logger = slog.Default()
	app, err := bootstrap.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func ingestCommand(c *cli.Context) error {
	return withApp(c, bootstrap.Options{WithoutAnswerCache: true}, func(ctx context.Context, app *bootstrap.App) error {
		if err := app.Ingest(ctx, c.String("path")); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		fmt.Fprintln(c.App.Writer, "knowledge base ingested")
		return nil
	})
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("question argument is required")
	}
	return withApp(c, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
		if err := loadIndexes(ctx, app); err != nil {
			return err
		}
		result, err := app.Answerer.Ask(ctx, question)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printResult(c.App.Writer, result)
		return nil
	})
}

func replCommand(c *cli.Context) error {
	return withApp(c, bootstrap.Options{}, func(ctx context.Context, app *bootstrap.App) error {
		if err := loadIndexes(ctx, app); err != nil {
			return err
		}
		return runREPL(ctx, os.Stdin, c.App.Writer, app.Answerer)
	})
}

func loadIndexes(ctx context.Context, app *bootstrap.App) error {
	err := app.ReloadIndexes(ctx)
	if domain.IsKind(err, domain.ErrIndexNotLoaded) {
		return fmt.Errorf("knowledge base is empty, run `qdoctor ingest` first: %w", err)
	}
	return err
}

// runREPL answers one question per input line until EOF, quit or exit.
// Pipeline errors are printed and the loop continues.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, answerer ports.QuestionAnswerer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := answerer.Ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printResult(out, result)
	}
}

func printResult(w io.Writer, result *domain.PipelineResult) {
	fmt.Fprintln(w, result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range result.Sources {
			if s.Page > 0 {
				fmt.Fprintf(w, "  - %s (page %d, score %.4f)\n", s.Source, s.Page, s.Score)
				continue
			}
			fmt.Fprintf(w, "  - %s (score %.4f)\n", s.Source, s.Score)
		}
	}
	fmt.Fprintf(w, "[%s in %s]\n", result.Outcome, result.Duration.Round(1e6))
}
