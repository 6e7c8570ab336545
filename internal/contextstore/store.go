// Package contextstore owns the authoritative set of context records shared
// across agent sessions and keeps a full snapshot of them on disk.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"playground/internal/async"
	apperrors "playground/internal/errors"
	"playground/internal/logging"
	"playground/internal/persistence"
)

const (
	// DefaultBackstopInterval is how often the full snapshot is rewritten
	// independently of mutations.
	DefaultBackstopInterval = 30 * time.Second

	snapshotVersion = 2
)

// Observer receives store telemetry.
type Observer interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordSnapshot(sizeBytes int, records int)
}

type nopObserver struct{}

func (nopObserver) RecordOperation(string, time.Duration, error) {}
func (nopObserver) RecordSnapshot(int, int)                      {}

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

// WithIDGenerator overrides context id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithObserver attaches a telemetry observer.
func WithObserver(observer Observer) Option {
	return func(s *Store) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithBackstopInterval sets the periodic snapshot interval; zero disables it.
func WithBackstopInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval >= 0 {
			s.backstopInterval = interval
		}
	}
}

// Store is the sole owner and mutator of the context collection.
//
// Mutations on one id are serialised by a per-id lock. Every mutation
// builds the next collection, writes it to disk and only then publishes it
// in memory, all under persistMu, so memory and disk agree after each
// successful call and a failed write changes nothing.
type Store struct {
	path             string
	gateway          persistence.Gateway
	logger           logging.Logger
	clock            func() time.Time
	newID            func() string
	observer         Observer
	backstopInterval time.Duration

	locks     *keyedMutex
	persistMu sync.Mutex

	mu       sync.RWMutex
	contexts map[string]*Context
	// deleted ids are persisted with the snapshot; reserved ids belong to
	// creates that have not committed yet.
	deleted  map[string]struct{}
	reserved map[string]struct{}

	lifecycleMu  sync.Mutex
	stopBackstop context.CancelFunc
	backstopDone <-chan struct{}
}

// New returns a store persisting to path. Call Open before use.
func New(path string, gateway persistence.Gateway, opts ...Option) *Store {
	s := &Store{
		path:             path,
		gateway:          gateway,
		logger:           logging.Nop(),
		clock:            time.Now,
		newID:            newContextID,
		observer:         nopObserver{},
		backstopInterval: DefaultBackstopInterval,
		locks:            newKeyedMutex(),
		contexts:         make(map[string]*Context),
		deleted:          make(map[string]struct{}),
		reserved:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newContextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "ctx-" + id.String()
}

type snapshotFile struct {
	Version  int                 `json:"version"`
	Contexts map[string]*Context `json:"contexts"`
	Deleted  []string            `json:"deleted,omitempty"`
}

// Open loads the snapshot file and starts the backstop. A missing file is
// an empty collection; an unreadable one is an error so existing data is
// never overwritten.
func (s *Store) Open(ctx context.Context) error {
	data, err := s.gateway.ReadSnapshot(ctx, s.path)
	switch {
	case persistence.IsNotFound(err):
		s.logger.Info("No context snapshot at %s, starting empty", s.path)
	case err != nil:
		return fmt.Errorf("load contexts: %w", err)
	default:
		loaded, deleted, err := decodeSnapshot(data)
		if err != nil {
			return apperrors.IO(err, "parse context snapshot %s", s.path)
		}
		s.persistMu.Lock()
		s.mu.Lock()
		s.contexts = loaded
		s.deleted = deleted
		s.mu.Unlock()
		s.persistMu.Unlock()
		s.logger.Info("Loaded %d contexts (%d deleted ids) from %s", len(loaded), len(deleted), s.path)
	}

	if s.backstopInterval > 0 {
		s.lifecycleMu.Lock()
		if s.stopBackstop == nil {
			bctx, cancel := context.WithCancel(context.Background())
			s.stopBackstop = cancel
			s.backstopDone = async.Every(bctx, s.logger, "contexts.backstop", s.backstopInterval, s.backstop)
		}
		s.lifecycleMu.Unlock()
	}
	return nil
}

// Close stops the backstop and writes a final snapshot when non-empty.
func (s *Store) Close(ctx context.Context) error {
	s.lifecycleMu.Lock()
	stop, done := s.stopBackstop, s.backstopDone
	s.stopBackstop, s.backstopDone = nil, nil
	s.lifecycleMu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return s.flush(ctx)
}

// Create stores a new context. initialData defaults to {} and metadata to
// an empty map.
func (s *Store) Create(ctx context.Context, ownerID, typ string, initialData *Value, metadata map[string]Value) (record *Context, err error) {
	defer s.observe("create", time.Now(), &err)

	if strings.TrimSpace(ownerID) == "" {
		return nil, apperrors.Validation("ownerId is required")
	}
	if strings.TrimSpace(typ) == "" {
		return nil, apperrors.Validation("type is required")
	}

	data := EmptyObject()
	if initialData != nil {
		data = initialData.Clone()
	}
	id := s.allocateID()
	defer s.release(id)
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.clock()
	next := &Context{
		ID:        id,
		OwnerID:   ownerID,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
		Metadata:  cloneMetadata(metadata),
	}
	if err := s.commit(ctx, id, next); err != nil {
		return nil, err
	}
	s.logger.Debug("Created context %s (owner=%s type=%s)", id, ownerID, typ)
	return next.Clone(), nil
}

// Get reads a context from memory.
func (s *Store) Get(_ context.Context, id string) (record *Context, err error) {
	defer s.observe("get", time.Now(), &err)

	current, ok := s.lookup(id)
	if !ok {
		return nil, apperrors.NotFound("context", id)
	}
	return current.Clone(), nil
}

// Update replaces data wholesale and merges metadata field by field.
func (s *Store) Update(ctx context.Context, id string, data Value, metadata map[string]Value) (record *Context, err error) {
	defer s.observe("update", time.Now(), &err)

	unlock := s.locks.Lock(id)
	defer unlock()

	current, ok := s.lookup(id)
	if !ok {
		return nil, apperrors.NotFound("context", id)
	}
	next := current.Clone()
	next.Data = data.Clone()
	next.Metadata = mergeMetadata(current.Metadata, metadata)
	next.UpdatedAt = current.touch(s.clock())

	if err := s.commit(ctx, id, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// AppendToList appends item to the list at data[listKey]. A missing or
// non-list value at listKey is replaced by an empty list first, and data
// that is not an object is replaced by an empty object.
func (s *Store) AppendToList(ctx context.Context, id, listKey string, item Value) (record *Context, err error) {
	defer s.observe("append", time.Now(), &err)

	if strings.TrimSpace(listKey) == "" {
		return nil, apperrors.Validation("listKey is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, ok := s.lookup(id)
	if !ok {
		return nil, apperrors.NotFound("context", id)
	}

	data := current.Data
	if data.Kind() != KindObject {
		s.logger.Warn("Context %s data is %s, resetting to object for append", id, data.Kind())
		data = EmptyObject()
	}
	list, exists := data.Field(listKey)
	if list.Kind() != KindList {
		if exists {
			s.logger.Warn("Context %s field %q is %s, replacing with list", id, listKey, list.Kind())
		}
		list = List()
	}

	next := current.Clone()
	next.Data = data.withField(listKey, list.appendItem(item))
	next.UpdatedAt = current.touch(s.clock())

	if err := s.commit(ctx, id, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete removes a context and reports whether one was removed. The id is
// never handed out again by this store.
func (s *Store) Delete(ctx context.Context, id string) (deleted bool, err error) {
	defer s.observe("delete", time.Now(), &err)

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, ok := s.lookup(id); !ok {
		return false, nil
	}
	if err := s.commit(ctx, id, nil); err != nil {
		return false, err
	}
	s.logger.Debug("Deleted context %s", id)
	return true, nil
}

// List returns the contexts owned by ownerID (all when blank), oldest first.
func (s *Store) List(_ context.Context, ownerID string) []*Context {
	s.mu.RLock()
	out := make([]*Context, 0, len(s.contexts))
	for _, record := range s.contexts {
		if ownerID != "" && record.OwnerID != ownerID {
			continue
		}
		out = append(out, record.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of stored contexts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

func (s *Store) lookup(id string) (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.contexts[id]
	return record, ok
}

func (s *Store) allocateID() string {
	for {
		id := s.newID()
		s.mu.Lock()
		_, live := s.contexts[id]
		_, deleted := s.deleted[id]
		_, reserved := s.reserved[id]
		if !live && !deleted && !reserved {
			s.reserved[id] = struct{}{}
			s.mu.Unlock()
			return id
		}
		s.mu.Unlock()
		s.logger.Warn("Context id %s already used, drawing another", id)
	}
}

// release drops a reservation taken by allocateID. A committed id stays
// taken through the contexts map.
func (s *Store) release(id string) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.mu.Unlock()
}

// commit writes the collection with id set to next (removed when nil) and
// publishes it in memory only after the write succeeded. Committed records
// are never mutated afterwards.
func (s *Store) commit(ctx context.Context, id string, next *Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	staged := maps.Clone(s.contexts)
	deleted := s.deleted
	s.mu.RUnlock()
	if staged == nil {
		staged = make(map[string]*Context, 1)
	}

	if next == nil {
		delete(staged, id)
		deleted = maps.Clone(deleted)
		if deleted == nil {
			deleted = make(map[string]struct{}, 1)
		}
		deleted[id] = struct{}{}
	} else {
		staged[id] = next
	}

	if err := s.write(ctx, staged, deleted); err != nil {
		s.logger.Error("Persist contexts after change to %s failed: %v", id, err)
		return err
	}

	s.mu.Lock()
	s.contexts = staged
	s.deleted = deleted
	s.mu.Unlock()
	return nil
}

func (s *Store) write(ctx context.Context, contexts map[string]*Context, deleted map[string]struct{}) error {
	data, err := encodeSnapshot(contexts, deleted)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "encode context snapshot")
	}
	if err := s.gateway.WriteSnapshot(ctx, s.path, data); err != nil {
		return fmt.Errorf("persist contexts: %w", err)
	}
	s.observer.RecordSnapshot(len(data), len(contexts))
	return nil
}

// flush rewrites the current collection when it is non-empty.
func (s *Store) flush(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	current, deleted := s.contexts, s.deleted
	s.mu.RUnlock()
	if len(current) == 0 {
		return nil
	}
	return s.write(ctx, current, deleted)
}

func (s *Store) backstop(ctx context.Context) {
	start := time.Now()
	err := s.flush(ctx)
	s.observer.RecordOperation("backstop", time.Since(start), err)
	if err != nil {
		s.logger.Warn("Backstop context snapshot failed: %v", err)
	}
}

func (s *Store) observe(operation string, start time.Time, errp *error) {
	s.observer.RecordOperation(operation, time.Since(start), *errp)
}

func encodeSnapshot(contexts map[string]*Context, deleted map[string]struct{}) ([]byte, error) {
	file := snapshotFile{
		Version:  snapshotVersion,
		Contexts: contexts,
		Deleted:  slices.Sorted(maps.Keys(deleted)),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeSnapshot returns the stored contexts and deleted ids. Version 1
// files carry no deleted ids.
func decodeSnapshot(data []byte) (map[string]*Context, map[string]struct{}, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, err
	}
	if file.Version > snapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", file.Version)
	}
	deleted := make(map[string]struct{}, len(file.Deleted))
	for _, id := range file.Deleted {
		deleted[id] = struct{}{}
	}
	out := make(map[string]*Context, len(file.Contexts))
	for id, record := range file.Contexts {
		if record == nil {
			continue
		}
		record.ID = id
		if record.Metadata == nil {
			record.Metadata = map[string]Value{}
		}
		if record.UpdatedAt.Before(record.CreatedAt) {
			record.UpdatedAt = record.CreatedAt
		}
		out[id] = record
	}
	return out, deleted, nil
}
