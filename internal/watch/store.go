package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/types"
)

// snapshotDoc is the persisted state file layout.
type snapshotDoc struct {
	Timestamp     time.Time            `json:"timestamp"`
	WatchedOrders []types.WatchedOrder `json:"watchedOrders"`
}

// Store is the durable registry of watched orders. One mutex guards both the
// in-memory map and the persist-to-disk step so memory and disk never present
// a torn view. Persist writes temp-then-rename and keeps a .bak of the
// previous snapshot.
type Store struct {
	path string

	mu     sync.Mutex
	orders map[int64]*types.WatchedOrder
}

func NewStore(path string) *Store {
	return &Store{path: path, orders: make(map[int64]*types.WatchedOrder)}
}

// Load populates the registry from disk. A missing or unparsable file yields
// an empty registry: state will be rebuilt from the exchange.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("state file %s not found, starting empty", s.path)
			return nil
		}
		logger.Warnf("state file %s unreadable (%v), starting empty", s.path, err)
		return nil
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warnf("state file %s corrupt (%v), starting empty", s.path, err)
		return nil
	}
	s.orders = make(map[int64]*types.WatchedOrder, len(doc.WatchedOrders))
	for i := range doc.WatchedOrders {
		o := doc.WatchedOrders[i]
		if o.OrderID == 0 {
			continue
		}
		s.orders[o.OrderID] = &o
	}
	logger.Infof("loaded %d watched orders from %s (saved %s)", len(s.orders), s.path, doc.Timestamp.Format(time.RFC3339))
	return nil
}

// Persist writes the full snapshot atomically.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	doc := snapshotDoc{Timestamp: time.Now().UTC(), WatchedOrders: s.sortedLocked()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// Keep the previous snapshot before overwriting.
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.path+".bak"); err != nil {
			logger.Warnf("state backup failed: %v", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (s *Store) sortedLocked() []types.WatchedOrder {
	out := make([]types.WatchedOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Add registers an order and persists. Replaces any existing entry with the
// same order ID.
func (s *Store) Add(order types.WatchedOrder) error {
	if order.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = &order
	return s.persistLocked()
}

// Remove drops an order and persists. Removing an unknown ID is a no-op.
func (s *Store) Remove(orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return nil
	}
	delete(s.orders, orderID)
	return s.persistLocked()
}

// Get returns a copy of the order.
func (s *Store) Get(orderID int64) (types.WatchedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return types.WatchedOrder{}, false
	}
	return *o, true
}

// All returns copies of every watched order, sorted by order ID.
func (s *Store) All() []types.WatchedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Len reports the number of watched orders.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Mutate runs fn on the order under the lock and persists the result. fn
// returning false skips the persist (no change made). The whole
// read-modify-write-persist happens inside one critical section.
func (s *Store) Mutate(orderID int64, fn func(*types.WatchedOrder) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not watched", orderID)
	}
	if !fn(o) {
		return nil
	}
	return s.persistLocked()
}

// ApplyBatch runs fn against the live map under the lock, then persists once.
// The reconciliation engine uses it so a whole corrective pass lands
// atomically.
func (s *Store) ApplyBatch(fn func(orders map[int64]*types.WatchedOrder)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.orders)
	return s.persistLocked()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
