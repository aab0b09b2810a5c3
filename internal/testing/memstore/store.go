// Package memstore is an in-memory implementation of the repository ports
// used by service tests. Units of work run one at a time against a copy of
// the state that replaces the committed state only when the callback succeeds.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/financial"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

type state struct {
	products map[uuid.UUID]inventory.Product
	ledger   map[uuid.UUID][]inventory.LedgerEntry
	order    map[uuid.UUID]int64
	contacts map[uuid.UUID]contacts.Contact
	txns     map[uuid.UUID]trade.Transaction
	nextSeq  int64
}

func newState() *state {
	return &state{
		products: map[uuid.UUID]inventory.Product{},
		ledger:   map[uuid.UUID][]inventory.LedgerEntry{},
		order:    map[uuid.UUID]int64{},
		contacts: map[uuid.UUID]contacts.Contact{},
		txns:     map[uuid.UUID]trade.Transaction{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = append([]inventory.LedgerEntry(nil), v...)
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

// Store holds products, ledger entries, contacts and transactions.
type Store struct {
	mu    sync.RWMutex
	state *state
	idem  map[string]string
	now   func() time.Time
	fault map[string]error
	units int
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), idem: map[string]string{}, now: time.Now, fault: map[string]error{}}
}

// FailOn makes the next call of the named write operation fail with err.
// Known operations: InsertEntry, InsertItems, InsertTransaction, InsertContact.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault[op] = err
}

// Units reports how many units of work committed.
func (s *Store) Units() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units
}

func (s *Store) injected(op string) error {
	if err, ok := s.fault[op]; ok {
		delete(s.fault, op)
		return err
	}
	return nil
}

func (s *Store) run(ctx context.Context, fn func(*txState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.state.clone()
	if err := fn(&txState{store: s, st: draft}); err != nil {
		return err
	}
	s.state = draft
	s.units++
	return nil
}

func (s *Store) read(fn func(*state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Inventory returns the inventory repository port.
func (s *Store) Inventory() inventory.RepositoryPort { return &inventoryRepo{s} }

// Contacts returns the contacts repository port.
func (s *Store) Contacts() contacts.RepositoryPort { return &contactsRepo{s} }

// Trade returns the transaction repository port.
func (s *Store) Trade() trade.RepositoryPort { return &tradeRepo{s} }

// Financial returns the report repository port.
func (s *Store) Financial() financial.RepositoryPort { return &financialRepo{s} }

// Idempotency returns an idempotency key store.
func (s *Store) Idempotency() *Idempotency { return &Idempotency{store: s} }

// Entries returns a copy of the ledger of a product in seq order.
func (s *Store) Entries(productID uuid.UUID) []inventory.LedgerEntry {
	var out []inventory.LedgerEntry
	s.read(func(st *state) {
		out = append(out, st.ledger[productID]...)
	})
	return out
}

// Tamper overwrites the cached projection of a product without a ledger
// entry, simulating drift.
func (s *Store) Tamper(productID uuid.UUID, fn func(*inventory.Product)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.products[productID]
	fn(&p)
	s.state.products[productID] = p
}

// Idempotency stores reserved request keys.
type Idempotency struct {
	store *Store
}

// CheckAndInsert reserves key, failing for keys seen before.
func (i *Idempotency) CheckAndInsert(_ context.Context, key, module string) error {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	if _, ok := i.store.idem[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.store.idem[key] = module
	return nil
}

// Delete releases key.
func (i *Idempotency) Delete(_ context.Context, key string) error {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	delete(i.store.idem, key)
	return nil
}

// Has reports whether key is reserved.
func (i *Idempotency) Has(key string) bool {
	i.store.mu.RLock()
	defer i.store.mu.RUnlock()
	_, ok := i.store.idem[key]
	return ok
}

// AuditRecorder collects audit logs in memory.
type AuditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

// Record stores log.
func (a *AuditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// Actions lists recorded actions in order.
func (a *AuditRecorder) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

// CacheCounter counts cache bumps.
type CacheCounter struct {
	mu    sync.Mutex
	bumps int
}

// Bump records an invalidation.
func (c *CacheCounter) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

// Bumps returns the number of invalidations.
func (c *CacheCounter) Bumps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bumps
}

func paginate[T any](items []T, page shared.Page) []T {
	page = shared.NewPage(page.Limit, page.Offset)
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

func notFound(kind string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
}
