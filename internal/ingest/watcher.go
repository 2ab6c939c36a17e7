package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/api"
)

// DefaultDebounce coalesces the Create+Write bursts editors and copy tools
// produce for a single saved file.
const DefaultDebounce = 500 * time.Millisecond

// FileWatcher monitors a drop directory for reviewed transcripts (.txt
// review lines or .csv reviewed records) and ingests each one as it lands.
type FileWatcher struct {
	svc      *Service
	watchDir string
	debounce time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	// stopped is guarded by debounceMu so no timer joins wg after Stop.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	stopped        bool

	// Stats
	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewFileWatcher creates a watcher over watchDir. debounce <= 0 uses DefaultDebounce.
func NewFileWatcher(svc *Service, watchDir string, debounce time.Duration, log zerolog.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw := &FileWatcher{
		svc:            svc,
		watchDir:       watchDir,
		debounce:       debounce,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds the watch directory tree to fsnotify, begins watching, and
// ingests files already present in a background goroutine.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(fw.watchDir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")

	fw.wg.Add(2)
	go fw.watchLoop()
	go fw.backfill()
	return nil
}

// Stop closes the fsnotify watcher, cancels in-flight processing and waits
// for every running ingest, including debounced ones, to return.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	fw.debounceMu.Lock()
	fw.stopped = true
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.wg.Wait()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Int64("files_failed", fw.filesFailed.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.watchDir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
		FilesFailed:    fw.filesFailed.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too so reviewers can organize drops.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !isReviewedFile(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing so the file is fully written
// before it is read.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.stopped {
		return
	}
	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		if fw.stopped {
			fw.debounceMu.Unlock()
			return
		}
		fw.wg.Add(1)
		fw.debounceMu.Unlock()

		defer fw.wg.Done()
		fw.processFile(path)
	})
}

func (fw *FileWatcher) processFile(path string) {
	if fw.ctx.Err() != nil {
		return
	}
	res, err := fw.svc.IngestFile(fw.ctx, path)
	if err != nil {
		fw.filesFailed.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to ingest reviewed file")
		return
	}
	if res.Total == 0 {
		fw.filesSkipped.Add(1)
		fw.log.Debug().Str("path", path).Msg("reviewed file has no utterances")
		return
	}
	fw.filesProcessed.Add(1)
	fw.log.Info().
		Str("path", path).
		Str("source_id", res.SourceID).
		Int("indexed", res.Indexed).
		Int("skipped", res.Skipped).
		Msg("reviewed file ingested")
}

// backfill ingests reviewed files that were dropped while the watcher was
// down. Re-ingesting an already indexed file replaces its chunks, so no
// bookkeeping of what was seen is needed.
func (fw *FileWatcher) backfill() {
	defer fw.wg.Done()
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	_ = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isReviewedFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	// Oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().Int("files", len(files)).Msg("backfill starting")
	for _, f := range files {
		if fw.ctx.Err() != nil {
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
		fw.processFile(f.path)
	}

	fw.status.CompareAndSwap("backfilling", "watching")
	fw.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

// isReviewedFile accepts .txt and .csv files, ignoring hidden and temporary
// files written by editors and the artifact store.
func isReviewedFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	_, ok := FormatFor(base)
	return ok
}
