package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Default file names read by [File], relative to its Dir.
const (
	DefaultTokenFile  = ".jwt_token"
	DefaultA1DataFile = ".a1data"
)

// File reads credentials from two small files on disk, one holding the
// token and one holding a1Data. Both are re-read on every call unless a
// watcher started with [File.Watch] keeps a cached copy current.
type File struct {
	Dir        string
	TokenFile  string
	A1DataFile string

	mu     sync.RWMutex
	cached *Credentials
}

// NewFile returns a [File] provider rooted at dir with the default names.
func NewFile(dir string) *File {
	return &File{Dir: dir, TokenFile: DefaultTokenFile, A1DataFile: DefaultA1DataFile}
}

func (f *File) paths() (string, string) {
	token := f.TokenFile
	if token == "" {
		token = DefaultTokenFile
	}
	a1 := f.A1DataFile
	if a1 == "" {
		a1 = DefaultA1DataFile
	}
	return filepath.Join(f.Dir, token), filepath.Join(f.Dir, a1)
}

// Credentials implements [Provider].
func (f *File) Credentials(context.Context) (Credentials, error) {
	f.mu.RLock()
	cached := f.cached
	f.mu.RUnlock()
	if cached != nil {
		if cached.Empty() {
			return Credentials{}, ErrMissing
		}
		return *cached, nil
	}
	return f.read()
}

func (f *File) read() (Credentials, error) {
	tokenPath, a1Path := f.paths()
	token, err := os.ReadFile(tokenPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: reading token: %w", ErrMissing, err)
	}
	a1, err := os.ReadFile(a1Path)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: reading a1data: %w", ErrMissing, err)
	}

	c := Credentials{IDToken: string(token), A1Data: string(a1)}.Normalized()
	if c.Empty() {
		return Credentials{}, ErrMissing
	}
	return c, nil
}

// Watch keeps an in-memory copy of the files current until ctx is done.
// Writes to either file trigger a reload. Watch blocks; run it in its own
// goroutine. onChange, if non-nil, is called after every reload.
func (f *File) Watch(ctx context.Context, logger *slog.Logger, onChange func(Credentials)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory so editors that replace files atomically are seen
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	tokenPath, a1Path := f.paths()
	reload := func() {
		c, err := f.read()
		if err != nil {
			logger.Warn("credentials reload failed", "error", err)
			c = Credentials{}
		}
		f.mu.Lock()
		f.cached = &c
		f.mu.Unlock()
		if onChange != nil && err == nil {
			onChange(c)
		}
	}
	reload()

	defer func() {
		f.mu.Lock()
		f.cached = nil
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if name != filepath.Clean(tokenPath) && name != filepath.Clean(a1Path) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				logger.Debug("credentials file changed", "file", name, "op", ev.Op.String())
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credentials watcher error", "error", err)
		}
	}
}
