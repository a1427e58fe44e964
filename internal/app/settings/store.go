// Package settings provides the persistent, per-content player settings store.
package settings

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metafates/gache"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/infra/storage"
)

// Errors
var (
	ErrEmptyContentID = errors.New("content id is empty")
	ErrClosed         = errors.New("settings store is closed")
)

// Global keys, shared by every title.
const (
	GlobalVolumeKey = "last_volume"
	GlobalRateKey   = "last_rate"
)

// Entry is the persisted state of one title.
type Entry struct {
	Volume         float64 `json:"volume"`
	PlaybackRate   float64 `json:"playbackRate"`
	Muted          bool    `json:"muted"`
	ResumePosition float64 `json:"resumePosition"`
}

// Snapshot is what a session reads at start.
type Snapshot struct {
	Entry  mo.Option[Entry]
	Volume mo.Option[float64] // Last used volume across titles
	Rate   mo.Option[float64] // Last used rate across titles
}

// document is the on-disk layout.
type document struct {
	Content map[string]Entry   `json:"content"`
	Global  map[string]float64 `json:"global"`
}

func newDocument() *document {
	return &document{
		Content: make(map[string]Entry),
		Global:  make(map[string]float64),
	}
}

// Key returns the namespaced key of a title.
func Key(contentID string) string {
	return "content:" + contentID
}

// Options configures a Store.
type Options struct {
	Path       string
	Fs         afero.Fs
	Clock      timer.Clock
	WriteDelay time.Duration
}

// Store is the only component writing player state to persistent storage.
// Writes are buffered in memory and flushed after WriteDelay of quiet.
type Store struct {
	mu     sync.Mutex
	cache  *gache.Cache[*document]
	doc    *document
	flush  *timer.Debouncer
	closed bool
}

// New creates a store backed by a JSON file at opts.Path.
func New(opts Options) *Store {
	if opts.Fs == nil {
		opts.Fs = storage.OsFs()
	}
	if opts.Clock == nil {
		opts.Clock = timer.Real()
	}

	return &Store{
		cache: gache.New[*document](&gache.Options{
			Path:       opts.Path,
			FileSystem: storage.GacheFs{Fs: opts.Fs},
		}),
		flush: timer.NewDebouncer(opts.Clock, opts.WriteDelay),
	}
}

// Load returns the stored state for contentID and the global keys.
func (s *Store) Load(contentID string) (Snapshot, error) {
	if contentID == "" {
		return Snapshot{}, ErrEmptyContentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.documentLocked()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Entry:  mo.None[Entry](),
		Volume: mo.None[float64](),
		Rate:   mo.None[float64](),
	}
	if e, ok := doc.Content[Key(contentID)]; ok {
		snap.Entry = mo.Some(e)
	}
	if v, ok := doc.Global[GlobalVolumeKey]; ok {
		snap.Volume = mo.Some(v)
	}
	if r, ok := doc.Global[GlobalRateKey]; ok {
		snap.Rate = mo.Some(r)
	}
	return snap, nil
}

// Save records the state of contentID and the global last-used volume and
// rate. The write reaches storage on the next flush.
func (s *Store) Save(contentID string, e Entry) error {
	if contentID == "" {
		return ErrEmptyContentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.writableLocked()
	if err != nil {
		return err
	}
	doc.Content[Key(contentID)] = e
	doc.Global[GlobalVolumeKey] = e.Volume
	doc.Global[GlobalRateKey] = e.PlaybackRate
	s.scheduleLocked()
	return nil
}

// ClearResume resets the resume position of contentID.
func (s *Store) ClearResume(contentID string) error {
	if contentID == "" {
		return ErrEmptyContentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.writableLocked()
	if err != nil {
		return err
	}
	e, ok := doc.Content[Key(contentID)]
	if !ok {
		return nil
	}
	e.ResumePosition = 0
	doc.Content[Key(contentID)] = e
	s.scheduleLocked()
	return nil
}

// Remove deletes everything stored for contentID and flushes immediately.
func (s *Store) Remove(contentID string) error {
	if contentID == "" {
		return ErrEmptyContentID
	}

	s.mu.Lock()
	doc, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(doc.Content, Key(contentID))
	s.mu.Unlock()

	s.flush.Cancel()
	return s.write()
}

// Flush writes pending changes now.
func (s *Store) Flush() error {
	if s.flush.Pending() {
		s.flush.Cancel()
		return s.write()
	}
	return nil
}

// Close flushes pending changes and rejects further writes.
func (s *Store) Close() error {
	err := s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return err
}

func (s *Store) scheduleLocked() {
	s.flush.Trigger(func() {
		if err := s.write(); err != nil {
			zlog.Error().Msgf("settings: deferred write failed: %v", err)
		}
	})
}

func (s *Store) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return nil
	}
	if err := s.cache.Set(s.doc); err != nil {
		return errors.Wrap(err, "failed to write settings")
	}
	zlog.Debug().Msgf("settings: flushed %d titles", len(s.doc.Content))
	return nil
}

func (s *Store) writableLocked() (*document, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.documentLocked()
}

func (s *Store) documentLocked() (*document, error) {
	if s.doc != nil {
		return s.doc, nil
	}

	cached, expired, err := s.cache.Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read settings")
	}
	if expired || cached == nil {
		cached = newDocument()
	}
	if cached.Content == nil {
		cached.Content = make(map[string]Entry)
	}
	if cached.Global == nil {
		cached.Global = make(map[string]float64)
	}
	s.doc = cached
	return s.doc, nil
}
