package textstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// FollowOptions configures Follow.
type FollowOptions struct {
	// Idle flushes pending text after this long without writes; zero disables.
	Idle time.Duration

	// FromStart speaks the existing content before following.
	FromStart bool

	Logger *log.Logger
}

// Follow speaks text appended to path until ctx is cancelled or the file is
// removed or renamed. Pending text is flushed on the way out.
func Follow(ctx context.Context, path string, s Speaker, opts FollowOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("follow")

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("unable to get absolute path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open file: %w", err)
	}
	t := &tail{file: f, speaker: s}
	defer func() { _ = t.file.Close() }()
	if !opts.FromStart {
		if t.offset, err = f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("unable to seek: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory; editors and log writers often replace the file.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	logger.Info("following", "file", path, "idle", opts.Idle)

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	if opts.FromStart {
		if err := t.read(); err != nil {
			return err
		}
		if t.fed && opts.Idle > 0 {
			idle.Reset(opts.Idle)
		}
		t.fed = false
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.Flush()
			return ctx.Err()

		case <-idle.C:
			logger.Debug("idle, flushing")
			if err := s.Flush(); err != nil {
				return err
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return s.Flush()
			}
			if event.Name != path {
				continue
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.Info("file went away", "file", path, "event", event.Op)
				return s.Flush()
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if event.Has(fsnotify.Create) {
				// A new inode took the path, e.g. an atomic save.
				err := t.reopen(path)
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return err
				}
			}
			if err := t.read(); err != nil {
				return err
			}
			if t.fed && opts.Idle > 0 {
				idle.Reset(opts.Idle)
			}
			t.fed = false

		case err, ok := <-watcher.Errors:
			if !ok {
				return s.Flush()
			}
			logger.Error("fsnotify error", "error", err)
			return fmt.Errorf("watching %s: %w", path, err)
		}
	}
}

// tail reads whatever was appended since the last read.
type tail struct {
	file    *os.File
	speaker Speaker
	offset  int64
	carry   []byte
	fed     bool
}

// reopen switches to whatever file now sits at path and reads it from the
// start.
func (t *tail) reopen(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to reopen file: %w", err)
	}
	_ = t.file.Close()
	t.file = f
	t.offset = 0
	t.carry = nil
	return nil
}

func (t *tail) read() error {
	st, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat file: %w", err)
	}
	if st.Size() < t.offset {
		// Truncated; start over.
		t.offset = 0
		t.carry = nil
	}

	buf := make([]byte, 4096)
	for {
		n, err := t.file.ReadAt(buf, t.offset)
		if n > 0 {
			t.offset += int64(n)
			var text string
			text, t.carry = splitValid(append(t.carry, buf[:n]...))
			if text != "" {
				if serr := t.speaker.SpeakStream(text); serr != nil {
					return serr
				}
				t.fed = true
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to read file: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}
