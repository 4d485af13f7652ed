// Package api exposes the object routes. Every route runs behind a
// handler.Boundary: the request goroutine starts the handler, releases its
// reference and waits until the last callback of the request is done.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iderikon/mediastorage-proxy/pkg/auth"
	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/metrics"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/ratelimit"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/storage"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
	"github.com/iderikon/mediastorage-proxy/pkg/stream"
)

// DefaultChunkSize is used when Options.ChunkSize is not set
const DefaultChunkSize = 64 * 1024

// Options holds the collaborators of a Proxy
type Options struct {
	Backend    storage.Backend
	Store      store.Store
	Reactor    *reactor.Reactor
	Capacity   storage.CapacityChecker
	Limiter    *ratelimit.Limiter // nil disables rate limiting
	Verifier   *auth.Verifier     // nil or empty disables authentication
	Metrics    *metrics.Collector
	Logger     *logging.Logger
	Namespaces []models.Namespace

	ChunkSize    int
	MinFreeBytes uint64
}

// Proxy serves the object API
type Proxy struct {
	backend    storage.Backend
	store      store.Store
	reactor    *reactor.Reactor
	capacity   storage.CapacityChecker
	limiter    *ratelimit.Limiter
	verifier   *auth.Verifier
	metrics    *metrics.Collector
	logger     *logging.Logger
	namespaces map[string]models.Namespace
	chunkSize  int
	minFree    uint64
}

// New creates a proxy
func New(opts Options) *Proxy {
	p := &Proxy{
		backend:    opts.Backend,
		store:      opts.Store,
		reactor:    opts.Reactor,
		capacity:   opts.Capacity,
		limiter:    opts.Limiter,
		verifier:   opts.Verifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		namespaces: make(map[string]models.Namespace, len(opts.Namespaces)),
		chunkSize:  opts.ChunkSize,
		minFree:    opts.MinFreeBytes,
	}

	if p.capacity == nil {
		p.capacity = storage.Unlimited{}
	}
	if p.verifier == nil {
		p.verifier = auth.NewVerifier()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewCollector()
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.chunkSize <= 0 {
		p.chunkSize = DefaultChunkSize
	}
	for _, ns := range opts.Namespaces {
		p.namespaces[ns.Name] = ns
	}
	return p
}

// RegisterRoutes registers all API routes
func (p *Proxy) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/upload/{namespace}/{key}", p.serve("upload", p.handleUpload)).Methods("POST", "PUT")
	r.HandleFunc("/get/{namespace}/{key}", p.serve("get", p.handleGet)).Methods("GET")
	r.HandleFunc("/delete/{namespace}/{key}", p.serve("delete", p.handleDelete)).Methods("POST", "DELETE")
	r.HandleFunc("/info/{namespace}/{key}", p.serve("info", p.handleInfo)).Methods("GET")
	r.HandleFunc("/health", p.serve("health", p.handleHealth)).Methods("GET")
}

// startFunc is the synchronous first step of a request. It either replies
// itself or schedules callbacks that will.
type startFunc func(b *handler.Boundary, s *stream.HTTPStream) error

func (p *Proxy) serve(route string, start startFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		s := stream.New(w, r, p.logger)
		b := handler.New(s, handler.WithObserver(p.metrics))
		p.metrics.HandlerStarted()

		b.SafeCall(func() error {
			return start(b, s)
		})
		b.Release()

		// The response writer stays valid until every callback is released
		<-s.Done()
		p.metrics.HandlerFinished(route, s.Status(), time.Since(begin))

		if s.Aborted() {
			panic(http.ErrAbortHandler)
		}
	}
}

// target resolves the namespace and key of a request
func (p *Proxy) target(r *http.Request) (models.Namespace, string, error) {
	vars := mux.Vars(r)

	ns, ok := p.namespaces[vars["namespace"]]
	if !ok {
		return models.Namespace{}, "", handler.ClientError(http.StatusNotFound, "unknown namespace %q", vars["namespace"])
	}

	key := vars["key"]
	if err := storage.ValidateKey(ns.Name, key); err != nil {
		return models.Namespace{}, "", handler.WrapError(http.StatusBadRequest, false, err, "invalid object key")
	}
	return ns, key, nil
}

// authorize checks the API key. Reads from public namespaces need none.
func (p *Proxy) authorize(r *http.Request, ns models.Namespace, write bool) error {
	if !p.verifier.Enabled() {
		return nil
	}
	if !write && ns.PublicRead {
		return nil
	}

	err := p.verifier.Verify(auth.KeyFromRequest(r))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrMissingKey):
		return handler.WrapError(http.StatusUnauthorized, false, err, "authentication required")
	default:
		return handler.WrapError(http.StatusForbidden, false, err, "access denied")
	}
}

// throttle applies the per-client rate limit
func (p *Proxy) throttle(r *http.Request) error {
	if p.limiter == nil {
		return nil
	}
	key := ratelimit.APIKeyFunc(r)
	if !p.limiter.Allow(key) {
		return handler.ClientError(http.StatusTooManyRequests, "rate limited")
	}
	return nil
}

// submitted maps an error returned while scheduling reactor work
func submitted(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, reactor.ErrStopped) {
		return handler.WrapError(http.StatusServiceUnavailable, true, err, "shutting down")
	}
	return err
}

// lookup fetches object metadata, mapping a missing record to 404
func (p *Proxy) lookup(s *stream.HTTPStream, ns models.Namespace, key string) (*models.Object, error) {
	obj, err := p.store.GetObject(s.Context(), ns.Name, key)
	if errors.Is(err, store.ErrObjectNotFound) {
		return nil, handler.WrapError(http.StatusNotFound, false, err, "object %s/%s", ns.Name, key)
	}
	if err != nil {
		return nil, handler.WrapError(http.StatusInternalServerError, true, err, "metadata lookup failed")
	}
	return obj, nil
}
