package sheet

import (
	"fmt"
	"os"
	"slices"

	"github.com/pumped-fn/incr"
)

// Session keeps a sheet in sync with its file. Changes observed by a
// Watcher are produced into a stream inside the graph; Sync consumes them
// and reloads the file once per batch.
type Session struct {
	sheet   *Sheet
	path    string
	changes *incr.Producer[Change]
	pending *incr.Value[[]Change]
	reloads int
}

// NewSession loads path into a new sheet.
func NewSession(rt *incr.Runtime, path string) (*Session, error) {
	s, err := LoadFile(rt, path)
	if err != nil {
		return nil, err
	}

	changes := incr.NewProducer[Change](rt, incr.WithName("sheet.changes"))
	sub := changes.Subscribe(incr.WithName("sheet.subscription"))
	return &Session{
		sheet:   s,
		path:    path,
		changes: changes,
		pending: incr.Computed(rt, func() []Change {
			return slices.Collect(sub.Get().Drain())
		}, incr.WithName("sheet.pending")),
	}, nil
}

// Sheet returns the session's sheet.
func (s *Session) Sheet() *Sheet {
	return s.sheet
}

// Notify records a change. It must be called from the goroutine that owns
// the runtime.
func (s *Session) Notify(c Change) {
	s.changes.Produce(c)
}

// Reloads returns the number of times the file was reloaded.
func (s *Session) Reloads() int {
	return s.reloads
}

// Sync reloads the file if changes were recorded since the last call and
// returns the cells that changed.
func (s *Session) Sync() ([]string, error) {
	batch := s.pending.Take()
	if len(batch) == 0 {
		return nil, nil
	}

	src, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reloading sheet: %w", err)
	}
	s.reloads++
	s.sheet.rt.Logger().Info("reloading sheet", "file", s.path, "events", len(batch))
	return s.sheet.Apply(src, s.path)
}
