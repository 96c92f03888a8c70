package inventory

import (
	"context"
	"sort"
	"time"
)

// memoryStore backs the engine and service tests with an in-memory rendition
// of the repository contract, including rollback on transaction failure.
type memoryStore struct {
	balances    map[int64]Balance
	layers      []FifoLayer
	txns        []Transaction
	nextLayerID int64
	nextTxnID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{balances: make(map[int64]Balance)}
}

func (s *memoryStore) snapshot() *memoryStore {
	cp := &memoryStore{
		balances:    make(map[int64]Balance, len(s.balances)),
		layers:      append([]FifoLayer(nil), s.layers...),
		txns:        append([]Transaction(nil), s.txns...),
		nextLayerID: s.nextLayerID,
		nextTxnID:   s.nextTxnID,
	}
	for id, bal := range s.balances {
		cp.balances[id] = bal
	}
	return cp
}

func (s *memoryStore) restore(from *memoryStore) {
	s.balances = from.balances
	s.layers = from.layers
	s.txns = from.txns
	s.nextLayerID = from.nextLayerID
	s.nextTxnID = from.nextTxnID
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := s.snapshot()
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

func (s *memoryStore) GetBalance(_ context.Context, productID int64) (Balance, error) {
	bal, ok := s.balances[productID]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return bal, nil
}

func (s *memoryStore) ListBalances(context.Context) ([]Balance, error) {
	ids := make([]int64, 0, len(s.balances))
	for id := range s.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Balance, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.balances[id])
	}
	return out, nil
}

func (s *memoryStore) ListLayers(_ context.Context, productID int64, activeOnly bool) ([]FifoLayer, error) {
	var out []FifoLayer
	for _, layer := range s.layers {
		if layer.ProductID != productID {
			continue
		}
		if activeOnly && layer.FullyConsumed {
			continue
		}
		out = append(out, layer)
	}
	sortLayers(out)
	return out, nil
}

func (s *memoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		txn := s.txns[i]
		if filter.ProductID != 0 && txn.ProductID != filter.ProductID {
			continue
		}
		if len(filter.Types) > 0 {
			match := false
			for _, t := range filter.Types {
				if txn.Type == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, txn)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) ListAllTransactions(context.Context) ([]Transaction, error) {
	return append([]Transaction(nil), s.txns...), nil
}

func (s *memoryStore) LinkJournalEntry(_ context.Context, transactionID, journalEntryID int64) error {
	for i := range s.txns {
		if s.txns[i].ID == transactionID {
			s.txns[i].JournalEntryID = journalEntryID
			return nil
		}
	}
	return ErrBalanceNotFound
}

func sortLayers(layers []FifoLayer) {
	sort.SliceStable(layers, func(i, j int) bool {
		if !layers[i].LayerDate.Equal(layers[j].LayerDate) {
			return layers[i].LayerDate.Before(layers[j].LayerDate)
		}
		return layers[i].ID < layers[j].ID
	})
}

type memoryTx struct {
	store *memoryStore
}

func (t *memoryTx) EnsureBalance(_ context.Context, productID int64) error {
	if _, ok := t.store.balances[productID]; !ok {
		t.store.balances[productID] = Balance{ProductID: productID}
	}
	return nil
}

func (t *memoryTx) GetBalanceForUpdate(_ context.Context, productID int64) (Balance, error) {
	bal, ok := t.store.balances[productID]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return bal, nil
}

func (t *memoryTx) UpsertBalance(_ context.Context, balance Balance) error {
	balance.UpdatedAt = time.Now()
	t.store.balances[balance.ProductID] = balance
	return nil
}

func (t *memoryTx) InsertLayer(_ context.Context, layer FifoLayer) (int64, error) {
	t.store.nextLayerID++
	layer.ID = t.store.nextLayerID
	layer.CreatedAt = time.Now()
	t.store.layers = append(t.store.layers, layer)
	return layer.ID, nil
}

func (t *memoryTx) ActiveLayersForUpdate(_ context.Context, productID int64) ([]FifoLayer, error) {
	var out []FifoLayer
	for _, layer := range t.store.layers {
		if layer.ProductID == productID && !layer.FullyConsumed {
			out = append(out, layer)
		}
	}
	sortLayers(out)
	return out, nil
}

func (t *memoryTx) UpdateLayer(_ context.Context, layer FifoLayer) error {
	for i := range t.store.layers {
		if t.store.layers[i].ID == layer.ID {
			t.store.layers[i] = layer
			return nil
		}
	}
	return ErrBalanceNotFound
}

func (t *memoryTx) InsertTransaction(_ context.Context, txn Transaction) (int64, error) {
	t.store.nextTxnID++
	txn.ID = t.store.nextTxnID
	txn.CreatedAt = time.Now()
	t.store.txns = append(t.store.txns, txn)
	return txn.ID, nil
}

// staticProducts is a ProductPort over a fixed map.
type staticProducts map[int64]ProductInfo

func (p staticProducts) CostingInfo(_ context.Context, productID int64) (ProductInfo, error) {
	info, ok := p[productID]
	if !ok {
		return ProductInfo{}, ErrUnknownCostingMethod
	}
	return info, nil
}
