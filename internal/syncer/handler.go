package syncer

import (
	"context"
	"fmt"
	"time"

	"deskrag/features/corpus"
	"deskrag/internal/backing"
)

// SourceHandler is the per-source-type behavior bundle: change feed, document
// rendering and the upstream it depends on. Adding a source type means
// registering one handler; nothing else in the pipeline changes.
type SourceHandler interface {
	Type() corpus.SourceType
	Upstream() string
	FetchChanged(ctx context.Context, since time.Time, limit, offset int) ([]backing.ChangedRecord, error)
	Load(ctx context.Context, sourceID string) (*backing.Document, error)
}

// Registry holds the handler for every syncable source type.
type Registry struct {
	handlers map[corpus.SourceType]SourceHandler
	order    []corpus.SourceType
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[corpus.SourceType]SourceHandler)}
}

func (r *Registry) Register(h SourceHandler) {
	if _, exists := r.handlers[h.Type()]; !exists {
		r.order = append(r.order, h.Type())
	}
	r.handlers[h.Type()] = h
}

func (r *Registry) Get(t corpus.SourceType) (SourceHandler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for source type %q", t)
	}
	return h, nil
}

// Types returns registered source types in registration order.
func (r *Registry) Types() []corpus.SourceType {
	out := make([]corpus.SourceType, len(r.order))
	copy(out, r.order)
	return out
}

// tableHandler serves a source type straight from its backing table via the
// shared backing store, which keeps the id mapping identical to the sweeps.
type tableHandler struct {
	spec  backing.Spec
	store *backing.Store
}

func NewTableHandler(spec backing.Spec, store *backing.Store) SourceHandler {
	return &tableHandler{spec: spec, store: store}
}

func (h *tableHandler) Type() corpus.SourceType { return h.spec.Type }
func (h *tableHandler) Upstream() string        { return h.spec.Upstream }

func (h *tableHandler) FetchChanged(ctx context.Context, since time.Time, limit, offset int) ([]backing.ChangedRecord, error) {
	return h.store.FetchChanged(ctx, h.spec, since, limit, offset)
}

func (h *tableHandler) Load(ctx context.Context, sourceID string) (*backing.Document, error) {
	return h.store.LoadDocument(ctx, h.spec, sourceID)
}

// RegisterTableHandlers registers a table-backed handler for every known
// backing spec.
func RegisterTableHandlers(r *Registry, store *backing.Store) {
	for _, spec := range backing.Specs() {
		r.Register(NewTableHandler(spec, store))
	}
}
