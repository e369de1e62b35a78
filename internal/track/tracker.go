// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package track

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/ledger"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/notify"
	"github.com/tomtom215/mongotrack/internal/schema"
	"github.com/tomtom215/mongotrack/internal/store"
)

var (
	// ErrNotRegistered is returned when a collection has no registered schema.
	ErrNotRegistered = errors.New("collection not registered")
	// ErrAlreadyRegistered is returned when a collection is registered twice.
	ErrAlreadyRegistered = errors.New("collection already registered")
)

// Tracker is the registry of tracked collections of one database.
type Tracker struct {
	db             store.Database
	infoSuffix     string
	defaultOrigin  change.OriginFunc
	notifyOnInsert bool
	validators     bool
	ledgerPrefix   string
	publisher      notify.Publisher
	now            func() time.Time

	ledger      *ledger.Writer
	coordinator *notify.Coordinator

	mu    sync.RWMutex
	colls map[string]*Collection
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDefaultOrigin sets the origin of fields that declare none.
func WithDefaultOrigin(fn change.OriginFunc) Option {
	return func(t *Tracker) { t.defaultOrigin = fn }
}

// WithInfoSuffix overrides the shadow path suffix.
func WithInfoSuffix(suffix string) Option {
	return func(t *Tracker) { t.infoSuffix = suffix }
}

// WithNotifyOnInsert leaves inserted records pending so that first
// observed values are drained.
func WithNotifyOnInsert(enabled bool) Option {
	return func(t *Tracker) { t.notifyOnInsert = enabled }
}

// WithValidators makes EnsureIndexes apply the $jsonSchema validator.
func WithValidators(enabled bool) Option {
	return func(t *Tracker) { t.validators = enabled }
}

// WithLedgerPrefix prepends prefix to every ledger collection name.
func WithLedgerPrefix(prefix string) Option {
	return func(t *Tracker) { t.ledgerPrefix = prefix }
}

// WithPublisher publishes drained changes of fields marked Publish.
func WithPublisher(p notify.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker over db.
func New(db store.Database, opts ...Option) *Tracker {
	t := &Tracker{
		db:         db,
		infoSuffix: schema.DefaultInfoSuffix,
		now:        time.Now,
		colls:      make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ledger = ledger.NewWriter(db, ledger.WithPrefix(t.ledgerPrefix), ledger.WithClock(t.now))

	var copts []notify.Option
	if t.publisher != nil {
		copts = append(copts, notify.WithPublisher(t.publisher))
	}
	t.coordinator = notify.NewCoordinator(t.ledger, copts...)
	return t
}

// Register resolves s and returns the tracked collection.
func (t *Tracker) Register(s schema.Schema) (*Collection, error) {
	fields, err := schema.Resolve(s, schema.ResolveOptions{
		InfoSuffix:    t.infoSuffix,
		DefaultOrigin: t.defaultOrigin,
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", s.Collection, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.colls[s.Collection]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, s.Collection)
	}
	c := newCollection(t, s, fields)
	t.colls[s.Collection] = c

	logging.Info().
		Str("collection", s.Collection).
		Int("fields", len(fields)).
		Int("drained", len(c.drained)).
		Msg("Registered tracked collection")
	return c, nil
}

// Collection returns the registered collection name.
func (t *Tracker) Collection(name string) (*Collection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.colls[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return c, nil
}

// Names returns the registered collection names in order.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.colls))
	for name := range t.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ledger returns a reader over the ledger collections written by t.
func (t *Tracker) Ledger() *ledger.Reader {
	return ledger.NewReader(t.db, t.ledgerPrefix)
}

// DrainAll drains every registered collection that has drained fields,
// delivering changes left pending by writes whose own drain failed. Errors
// from single collections are joined; the other collections are still
// drained.
func (t *Tracker) DrainAll(ctx context.Context) (notify.Result, error) {
	var total notify.Result
	var errs []error
	for _, name := range t.Names() {
		c, ok := t.lookup(name)
		if !ok || len(c.drained) == 0 {
			continue
		}
		res, err := c.Drain(ctx)
		total.Documents += res.Documents
		total.Changes += res.Changes
		total.Cleared += res.Cleared
		total.LedgerRows += res.LedgerRows
		total.Published += res.Published
		if err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", name, err))
		}
	}
	return total, errors.Join(errs...)
}

func (t *Tracker) lookup(name string) (*Collection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.colls[name]
	return c, ok
}
