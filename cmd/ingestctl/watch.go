package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		settle  time.Duration
		initial bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest files as they appear or change under a folder",
		Long: `Watch a tender folder and ingest files when they are created or rewritten.
A changed file becomes a new version that supersedes the previous one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer p.Close()

			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if initial {
				res, err := p.Ingest.IngestFolder(ctx, ingest.FolderRequest{
					ProjectID:     opts.ProjectID,
					Root:          root,
					LanguageHints: opts.Languages,
				})
				if err != nil {
					return err
				}
				fmt.Printf("initial pass: %d indexed, %d skipped, %d failed\n", res.Indexed, res.Skipped, res.Failed)
			}

			w := &folderWatcher{
				root:   root,
				settle: settle,
				log:    p.Logger.Named("watch"),
				ingest: func(ctx context.Context, abs, rel string) {
					out := p.Ingest.IngestFile(ctx, ingest.FileRequest{
						ProjectID:     opts.ProjectID,
						Filename:      rel,
						Path:          abs,
						LanguageHints: opts.Languages,
					})
					printOutcome(out, "")
				},
			}
			fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", root)
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "Quiet period after the last write before a file is ingested")
	cmd.Flags().BoolVar(&initial, "initial", true, "Ingest the existing folder contents before watching")
	return cmd
}

// folderWatcher debounces fsnotify events per path: copying a large drawing
// produces many writes and only the final bytes should be ingested.
type folderWatcher struct {
	root   string
	settle time.Duration
	log    logger.Logger
	ingest func(ctx context.Context, abs, rel string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func (w *folderWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.root); err != nil {
		return err
	}
	w.pending = make(map[string]*time.Timer)
	defer w.wg.Wait()
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", logger.Error(err))
		}
	}
}

func (w *folderWatcher) handle(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	rel, ok := w.relative(event.Name)
	if !ok {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addTree(watcher, event.Name); err != nil {
				w.log.Warn("Failed to watch new folder", logger.String("path", rel), logger.Error(err))
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	w.schedule(ctx, event.Name, rel)
}

func (w *folderWatcher) schedule(ctx context.Context, abs, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[abs]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[abs] == t {
			delete(w.pending, abs)
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.ingest(ctx, abs, rel)
	})
	w.pending[abs] = t
}

func (w *folderWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for abs, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, abs)
	}
}

// relative maps an event path to the slash separated name used as the
// document filename. Hidden files and folders are ignored like in IngestFolder.
func (w *folderWatcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return rel, true
}

func (w *folderWatcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
