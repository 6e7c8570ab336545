package serverconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "playground/internal/errors"
	"playground/internal/logging"
	"playground/internal/persistence"
)

// BackupTimeLayout is the UTC timestamp embedded in backup file names.
const BackupTimeLayout = "20060102T150405.000000000Z"

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Store is the sole owner of the in-memory server configuration. Readers
// always see a complete config: Save validates first and then swaps the
// pointer.
type Store struct {
	path    string
	gateway persistence.Gateway
	logger  logging.Logger
	clock   func() time.Time

	current   atomic.Pointer[ServerConfig]
	loadGroup singleflight.Group
	// writeMu orders file writes and reads-then-publish so a reload never
	// publishes a config older than one already saved.
	writeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan ServerConfig
	nextSub int
}

// NewStore returns a config store backed by the file at path.
func NewStore(path string, gateway persistence.Gateway, opts ...Option) *Store {
	s := &Store{
		path:    path,
		gateway: gateway,
		logger:  logging.Nop(),
		clock:   time.Now,
		subs:    make(map[int]chan ServerConfig),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the config file into memory. A missing file is created with
// the defaults. A file that cannot be read or parsed leaves the defaults in
// memory and the file untouched. The returned error is set when the
// defaults could not be written for a missing file, or when ctx ended before
// the read finished; in the latter case the published config is unchanged.
func (s *Store) Load(ctx context.Context) (ServerConfig, error) {
	return s.load(ctx, true)
}

// Reload re-reads the file with Load semantics, except that a vanished file
// is not recreated.
func (s *Store) Reload(ctx context.Context) (ServerConfig, error) {
	return s.load(ctx, false)
}

func (s *Store) load(ctx context.Context, writeMissing bool) (ServerConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.gateway.ReadSnapshot(ctx, s.path)
	switch {
	case persistence.IsNotFound(err):
		cfg := Default()
		if !writeMissing {
			s.logger.Warn("Server config %s vanished, using defaults in memory", s.path)
			s.publish(cfg)
			return cfg.Clone(), nil
		}
		s.logger.Info("No server config at %s, writing defaults", s.path)
		writeErr := s.write(ctx, cfg)
		s.publish(cfg)
		if writeErr != nil {
			s.logger.Error("Write default server config failed: %v", writeErr)
			return cfg.Clone(), writeErr
		}
		return cfg.Clone(), nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return s.currentOrDefault(), err
	case err != nil:
		s.logger.Error("Read server config %s failed, using defaults in memory: %v", s.path, err)
		cfg := Default()
		s.publish(cfg)
		return cfg.Clone(), nil
	}

	cfg, fallbacks, err := Decode(data)
	if err != nil {
		s.logger.Error("Server config %s is unparsable, using defaults in memory: %v", s.path, err)
		cfg = Default()
		s.publish(cfg)
		return cfg.Clone(), nil
	}
	for _, fb := range fallbacks {
		s.logger.Warn("Server config section %s fell back to default (%s)", fb.Section, fb.Reason)
	}
	s.publish(cfg)
	return cfg.Clone(), nil
}

// currentOrDefault returns a copy of the published config, or the defaults
// when nothing has been published yet. Nothing is published.
func (s *Store) currentOrDefault() ServerConfig {
	if cfg := s.current.Load(); cfg != nil {
		return cfg.Clone()
	}
	return Default()
}

// Get returns a copy of the current config, loading it on first use.
// Concurrent first calls share a single load.
func (s *Store) Get(ctx context.Context) (ServerConfig, error) {
	if cfg := s.current.Load(); cfg != nil {
		return cfg.Clone(), nil
	}
	v, err, _ := s.loadGroup.Do("load", func() (any, error) {
		if cfg := s.current.Load(); cfg != nil {
			return cfg.Clone(), nil
		}
		cfg, err := s.Load(ctx)
		if err != nil {
			// Defaults are in memory even when they could not be written.
			s.logger.Warn("Initial server config load: %v", err)
		}
		return cfg, nil
	})
	if err != nil {
		return ServerConfig{}, err
	}
	return v.(ServerConfig).Clone(), nil
}

// Save validates cfg, writes it and makes it current. Nothing is written
// or swapped when validation fails.
func (s *Store) Save(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := cfg.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.write(ctx, next); err != nil {
		return err
	}
	s.publish(next)
	s.logger.Info("Server config saved (logging.level=%s)", next.Logging.Level)
	return nil
}

func (s *Store) write(ctx context.Context, cfg ServerConfig) error {
	data, err := Encode(cfg)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "encode server config")
	}
	if err := s.gateway.WriteSnapshot(ctx, s.path, data); err != nil {
		return fmt.Errorf("persist server config: %w", err)
	}
	return nil
}

// Backup copies the config file to a timestamped sibling and returns its
// path. A zero now uses the store clock. Backups are never removed.
func (s *Store) Backup(ctx context.Context, now time.Time) (string, error) {
	if now.IsZero() {
		now = s.clock()
	}
	dst := BackupPath(s.path, now)
	if err := s.gateway.CopyFile(ctx, s.path, dst); err != nil {
		return "", fmt.Errorf("backup server config: %w", err)
	}
	s.logger.Info("Server config backed up to %s", dst)
	return dst, nil
}

// BackupPath returns <dir>/<base>.<timestamp>.bak for path at now.
func BackupPath(path string, now time.Time) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, base+"."+now.UTC().Format(BackupTimeLayout)+".bak")
}

// Subscribe returns a channel receiving each new current config and a
// cancel func. Slow receivers only see the latest value.
func (s *Store) Subscribe() (<-chan ServerConfig, func()) {
	ch := make(chan ServerConfig, 1)
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// publish swaps cfg in and notifies subscribers when it changed.
func (s *Store) publish(cfg ServerConfig) {
	next := cfg.Clone()
	prev := s.current.Swap(&next)
	if prev != nil && prev.Equal(next) {
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next.Clone():
		default:
		}
	}
}
