package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/repo"
)

func newWatchCmd(g *globals) *cobra.Command {
	var language string
	var tags, aliases []string

	cmd := &cobra.Command{
		Use:   "watch <file>...",
		Short: "Store functions again every time their files are saved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			opts, err := newAddOptions(cmd.Context(), r, language, tags, aliases)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return watchFiles(ctx, r, args, opts, g.logger, func(path string, res *repo.AddResult, err error) {
				switch {
				case err != nil:
					fmt.Fprintf(out, "%s: %v\n", path, err)
				case res.Created || res.MappingCreated:
					fmt.Fprintf(out, "%s: ", path)
					printAdd(out, res, opts.language)
				}
			})
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "mapping language (default: first preferred language)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag recorded on each object (repeatable)")
	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "name=hash binding an identifier to a stored function (repeatable)")
	return cmd
}

// watchFiles adds every path once, then again after each write until ctx
// is done. Directories are watched rather than the files so editors that
// save by renaming are still seen.
func watchFiles(ctx context.Context, r *repo.Repo, paths []string, opts addOptions, logger *slog.Logger,
	report func(path string, res *repo.AddResult, err error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	for _, p := range paths {
		abs, _ := filepath.Abs(p)
		res, err := addFile(ctx, r, abs, opts)
		report(p, res, err)
	}
	logger.Debug("watching", "files", len(targets), "dirs", len(dirs))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := filepath.Clean(event.Name)
			if !targets[path] {
				continue
			}
			res, err := addFile(ctx, r, path, opts)
			report(path, res, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
