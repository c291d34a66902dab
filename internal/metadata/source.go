package metadata

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// SourceEvent reports that one or more categories of a metadata source
// changed.
type SourceEvent struct {
	// Kind is KindAdded or KindUpdated for a (re)load and KindRemoved when the
	// source's archives went away.
	Kind       notify.Kind `json:"kind"`
	Source     string      `json:"source"`
	Categories Categories  `json:"categories"`
	// Path locates the archive data when the source knows it.
	Path string `json:"path,omitempty"`
}

// Source watches an external metadata provider.
//
// Watch returns a lazy, possibly infinite sequence. It must stop promptly
// when ctx is done and release anything it holds when iteration stops. A
// non-nil error ends the sequence.
type Source interface {
	Watch(ctx context.Context) iter.Seq2[SourceEvent, error]
}

// LoadRequest describes one category that needs a new archive.
type LoadRequest struct {
	Category Categories
	Event    SourceEvent
	// Previous is the archive being replaced; HasPrevious is false on the
	// first load of a category.
	Previous    Archive
	HasPrevious bool
}

// Loader turns a change notification into a new archive handle.
//
// Load may block and must honour ctx. It must not have visible side effects:
// the coordinator discards the result if a later category fails or the
// watch is cancelled.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Archive, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, req LoadRequest) (Archive, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, req LoadRequest) (Archive, error) {
	return f(ctx, req)
}

// versionLoader bumps the version of the previous archive and records where
// the data came from. It does not read the archive contents.
type versionLoader struct {
	now func() time.Time
}

func (l versionLoader) Load(ctx context.Context, req LoadRequest) (Archive, error) {
	if err := ctx.Err(); err != nil {
		return Archive{}, err
	}
	if req.Category.Count() != 1 {
		return Archive{}, fmt.Errorf("load request must name one category, got %s", req.Category)
	}

	version := uint64(1)
	if req.HasPrevious {
		version = req.Previous.Version + 1
	}
	return Archive{
		Category: req.Category,
		Version:  version,
		Source:   req.Event.Source,
		Path:     req.Event.Path,
		LoadedAt: l.now(),
	}, nil
}
