package metadata

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// ArchiveExtension is the file extension of metadata archives.
const ArchiveExtension = ".xoa"

// ParseArchiveName splits an archive file name of the form
// "<source>.<Category>.xoa" into its source and category.
func ParseArchiveName(name string) (string, Categories, bool) {
	base := filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(base), ArchiveExtension) {
		return "", CategoriesNone, false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	dot := strings.LastIndexByte(stem, '.')
	if dot <= 0 {
		return "", CategoriesNone, false
	}
	cat, err := ParseCategory(stem[dot+1:])
	if err != nil {
		return "", CategoriesNone, false
	}
	return stem[:dot], cat, true
}

// DirSource watches a directory of archive files.
//
// Existing archives are reported as Added when watching starts. Created and
// rewritten files are reported as Updated, deleted or renamed files as
// Removed. Files whose name does not parse are ignored.
type DirSource struct {
	dir    string
	logger Logger
}

// NewDirSource creates a source for dir.
func NewDirSource(dir string, logger Logger) *DirSource {
	if logger == nil {
		logger = noopLogger{}
	}
	return &DirSource{dir: dir, logger: logger}
}

// Watch implements Source.
func (s *DirSource) Watch(ctx context.Context) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			yield(SourceEvent{}, fmt.Errorf("creating watcher: %w", err))
			return
		}
		defer watcher.Close()

		if err := watcher.Add(s.dir); err != nil {
			yield(SourceEvent{}, fmt.Errorf("watching %s: %w", s.dir, err))
			return
		}

		// Scan after Add so a file created in between is reported at least once.
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			yield(SourceEvent{}, fmt.Errorf("reading %s: %w", s.dir, err))
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ev, ok := s.event(notify.KindAdded, filepath.Join(s.dir, e.Name()))
			if !ok {
				continue
			}
			if ctx.Err() != nil || !yield(ev, nil) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case fe, ok := <-watcher.Events:
				if !ok {
					return
				}
				kind, relevant := kindForOp(fe.Op)
				if !relevant {
					continue
				}
				ev, ok := s.event(kind, fe.Name)
				if !ok {
					s.logger.Debug("ignoring non-archive file", "path", fe.Name)
					continue
				}
				if !yield(ev, nil) {
					return
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				yield(SourceEvent{}, werr)
				return
			}
		}
	}
}

func (s *DirSource) event(kind notify.Kind, path string) (SourceEvent, bool) {
	source, cat, ok := ParseArchiveName(path)
	if !ok {
		return SourceEvent{}, false
	}
	return SourceEvent{Kind: kind, Source: source, Categories: cat, Path: path}, true
}

func kindForOp(op fsnotify.Op) (notify.Kind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return notify.KindRemoved, true
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return notify.KindUpdated, true
	default:
		return 0, false
	}
}
