package txapi

import (
	"sync"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/coordinator"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/store"
)

// txRegistry holds the server process's live transactions, keyed by UUID string, so that
// successive HTTP requests against the same transaction share one *coordinator.Tx. A real
// client library call sequence keeps the Tx in a local variable; an HTTP admin surface has to
// thread it through request boundaries instead, which is the one thing this package adds on
// top of the coordinator's own API.
type txRegistry struct {
	mu sync.Mutex
	tx map[string]*coordinator.Tx
}

func newTxRegistry() *txRegistry {
	return &txRegistry{tx: make(map[string]*coordinator.Tx)}
}

func (r *txRegistry) put(tx *coordinator.Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tx[tx.UUID().String()] = tx
}

func (r *txRegistry) get(id string) (*coordinator.Tx, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.tx[id]
	return tx, ok
}

func (r *txRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tx, id)
}

var registry = newTxRegistry()

// unknownTxError is returned when a request references a tx id the registry has never seen or
// has already forgotten (e.g. after commit/rollback), distinct from dynatx.ErrTransactionTerminated
// which covers a tx the registry still holds but that already finished.
type unknownTxError struct{ id string }

func (e *unknownTxError) Error() string { return "txapi: unknown transaction " + e.id }

func lookupTx(id string) (*coordinator.Tx, error) {
	tx, ok := registry.get(id)
	if !ok {
		return nil, &unknownTxError{id: id}
	}
	return tx, nil
}

// deps carries the collaborators every handler needs; main.go assigns them before registering
// routes, following the same pattern as a package-level DB/DataPath handle.
var deps struct {
	client   store.Client
	resolver *keyresolver.Resolver
	config   dynatx.Config
}

// Configure wires the store client, key resolver and configuration every handler uses. main.go
// calls this once at startup before mounting the router.
func Configure(client store.Client, resolver *keyresolver.Resolver, cfg dynatx.Config) {
	deps.client = client
	deps.resolver = resolver
	deps.config = cfg.WithDefaults()
}
