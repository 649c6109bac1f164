package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"audiomate/internal/bootstrap"
	"audiomate/internal/domain"
	"audiomate/internal/pipeline"
	"audiomate/internal/tui"
)

const usage = `usage: audiomate <command> [flags]

commands:
  transcribe [-tui] FILE...   transcribe audio files in order
  doctor [-json]              check ffmpeg, the engine and directories
  models                      list known models
  models pull [-default] ID   download model weights
  history [-n N]              show recent transcriptions
  serve [-addr ADDR]          serve metrics, health and history over HTTP
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "transcribe":
		return runTranscribe(ctx, rest, stdout)
	case "doctor":
		return runDoctor(ctx, rest, stdout)
	case "models":
		return runModels(ctx, rest, stdout)
	case "history":
		return runHistory(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(ctx context.Context, logOut io.Writer) (*bootstrap.App, error) {
	app, err := bootstrap.New(ctx, bootstrap.Options{
		SettingsPath: os.Getenv("AUDIOMATE_SETTINGS"),
		LogOut:       logOut,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap app: %w", err)
	}
	return app, nil
}

func runTranscribe(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	useTUI := fs.Bool("tui", false, "show live progress")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("transcribe needs at least one file")
	}

	// Console logs would tear the TUI, so they go to the log file only.
	var logOut io.Writer
	if *useTUI {
		logOut = io.Discard
	}
	app, err := newApp(ctx, logOut)
	if err != nil {
		return err
	}
	defer app.Close()

	if addr := app.Config.Observability.MetricsAddr; addr != "" {
		srv := app.ObservabilityServer(addr)
		srv.Start()
		defer shutdown(srv.Shutdown)
	}

	if !*useTUI {
		res, err := app.Transcribe(ctx, fs.Args())
		printBatch(stdout, res)
		return err
	}

	assets, err := bootstrap.AssetsFromPaths(fs.Args())
	if err != nil {
		return err
	}
	events, unsubscribe := app.Events().Subscribe(256)
	defer unsubscribe()
	if err := app.StartBatch(ctx, fs.Args()); err != nil {
		return err
	}
	// The bus drops events for slow subscribers, so the view also stops when
	// the subscription closes after the batch.
	go func() {
		_, _ = app.Wait()
		unsubscribe()
	}()

	model := tui.New(assets, events, func() { _ = app.CancelBatch() })
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		_ = app.CancelBatch()
		return fmt.Errorf("run tui: %w", err)
	}
	_, err = app.Wait()
	return err
}

func printBatch(w io.Writer, res pipeline.BatchResult) {
	for _, a := range res.Assets {
		line := fmt.Sprintf("%-10s %s", a.Status, a.Asset.Name)
		switch {
		case a.Err != nil:
			line += "  " + a.Err.Error()
		case a.Files.TextPath != "":
			line += "  -> " + a.Files.TextPath
		}
		if a.Run.Degraded {
			line += "  (fallback)"
		}
		fmt.Fprintln(w, line)
	}
	if res.ArchivePath != "" {
		fmt.Fprintln(w, "archive:", res.ArchivePath)
	}
}

func runDoctor(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := newApp(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer app.Close()

	report := app.Diagnostics(ctx)
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, item := range report.Items {
			fmt.Fprintf(stdout, "[%s] %s: %s\n", item.Status, item.Name, item.Message)
			if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
				fmt.Fprintf(stdout, "       %s\n", item.Hint)
			}
		}
	}
	if report.HasFailures {
		return errors.New("environment checks failed")
	}
	return nil
}

func runModels(ctx context.Context, args []string, stdout io.Writer) error {
	app, err := newApp(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 0 {
		for _, m := range app.ModelCatalog() {
			state := ""
			if m.Downloaded {
				state = "downloaded"
			}
			fmt.Fprintf(stdout, "%-10s %-8s %-11s %s\n", m.ID, m.SizeLabel, state, m.Description)
		}
		return nil
	}

	if args[0] != "pull" {
		return fmt.Errorf("unknown models subcommand %q", args[0])
	}
	fs := flag.NewFlagSet("models pull", flag.ContinueOnError)
	makeDefault := fs.Bool("default", false, "use the model as primary model")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("models pull needs exactly one model id")
	}
	path, err := app.PullModel(ctx, fs.Arg(0), *makeDefault)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := newApp(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.RecentHistory(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("%-14s %-10s %-24s %s", humanize.Time(e.FinishedAt), e.Status, e.Asset, e.Model)
		if e.Degraded {
			line += " (fallback)"
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (defaults to AUDIOMATE_METRICS_ADDR or :9464)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	listen := *addr
	if listen == "" {
		listen = app.Config.Observability.MetricsAddr
	}
	if listen == "" {
		listen = ":9464"
	}
	srv := app.ObservabilityServer(listen)
	srv.Start()
	<-ctx.Done()
	shutdown(srv.Shutdown)
	return nil
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fn(ctx)
}
