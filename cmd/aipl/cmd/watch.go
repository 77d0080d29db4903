package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/ingest"
	"github.com/AnshuML/Aipl/internal/output"
	"github.com/AnshuML/Aipl/internal/service"
	"github.com/AnshuML/Aipl/internal/watcher"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	poll bool
	scan bool
}

func newWatchCmd(state *rootState) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <root>",
		Short: "Keep departments in sync with a drop folder",
		Long: `Watch <root>/<department>/<file> and apply changes as they settle.

A new or modified file is stored under its base name and a removed file is
deleted. Each department touched by a batch of changes is rebuilt once.
Subdirectories below a department and hidden or temporary files are
ignored. Stop with Ctrl+C.`,
		Example: `  aipl watch ./dropbox
  aipl watch ./dropbox --scan --poll`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cmd, svc, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Use polling instead of filesystem notifications")
	cmd.Flags().BoolVar(&opts.scan, "scan", false, "Ingest files already in the drop folder before watching")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, svc *service.Service, root string, opts watchOptions) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve drop folder: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
		return errors.New(errors.ErrCodeFileNotFound, "drop folder not found", err).
			WithDetail("path", absRoot)
	}

	out := output.New(cmd.OutOrStdout())
	if opts.scan {
		if err := scanDropFolder(ctx, out, svc, absRoot); err != nil {
			return err
		}
	}

	w, err := watcher.NewDropFolderWatcher(watcher.Options{
		DebounceWindow: svc.Config().WatchDebounce(),
		Extensions:     ingest.SupportedExtensions(),
		ForcePolling:   opts.poll,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	coordinator := ingest.NewCoordinator(svc, absRoot, svc.Extractor())
	go func() { _ = coordinator.Run(ctx, w.Events()) }()
	go func() {
		for err := range w.Errors() {
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}()

	out.Successf("Watching %s (%s)", absRoot, w.WatcherType())
	err = w.Start(ctx, absRoot)
	if stderrors.Is(err, context.Canceled) {
		out.Status("", "Stopped")
		return nil
	}
	return err
}

// scanDropFolder ingests each department directory already under root.
func scanDropFolder(ctx context.Context, out *output.Writer, svc *service.Service, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read drop folder: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !watcher.IsDepartmentDir(e.Name()) {
			continue
		}
		report, err := svc.IngestDir(ctx, e.Name(), filepath.Join(root, e.Name()))
		if err != nil {
			out.Warningf("Scan %s: %s", e.Name(), err)
			continue
		}
		out.Successf("Scanned %s: %d documents", report.Department, len(report.Added))
	}
	return nil
}
