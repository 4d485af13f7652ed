package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/storage"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
	"github.com/iderikon/mediastorage-proxy/pkg/stream"
)

// maxOpenAttempts bounds how often a GET follows a key that keeps being
// replaced under it
const maxOpenAttempts = 3

// download streams one blob to the client
type download struct {
	p  *Proxy
	b  *handler.Boundary
	s  *stream.HTTPStream
	ns models.Namespace
	rc io.ReadCloser
}

func (p *Proxy) handleGet(b *handler.Boundary, s *stream.HTTPStream) error {
	r := s.Request()

	ns, key, err := p.target(r)
	if err != nil {
		return err
	}
	if err := p.authorize(r, ns, false); err != nil {
		return err
	}

	obj, rc, size, err := p.openObject(s, ns, key)
	if err != nil {
		return err
	}
	s.OnClose(func() { rc.Close() })

	header := http.Header{}
	if obj.ContentType != "" {
		header.Set("Content-Type", obj.ContentType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	header.Set("Content-Length", strconv.FormatInt(size, 10))
	header.Set("ETag", strconv.Quote(obj.Checksum))
	header.Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
	if err := s.ReplyHeaders(http.StatusOK, header); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	d := &download{p: p, b: b, s: s, ns: ns, rc: rc}
	return d.readNext()
}

// openObject opens the blob the key's record points at. A replace or delete
// landing between the lookup and the open removes that blob, so a missing
// blob is looked up again before it counts as lost.
func (p *Proxy) openObject(s *stream.HTTPStream, ns models.Namespace, key string) (*models.Object, io.ReadCloser, int64, error) {
	obj, err := p.lookup(s, ns, key)
	if err != nil {
		return nil, nil, 0, err
	}

	for attempt := 1; ; attempt++ {
		rc, size, err := p.backend.Open(s.Context(), ns.Name, obj.ID)
		if err == nil {
			return obj, rc, size, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, 0, handler.WrapError(http.StatusInternalServerError, true, err, "failed to open blob")
		}

		current, lookupErr := p.lookup(s, ns, key)
		if lookupErr != nil {
			return nil, nil, 0, lookupErr
		}
		if current.ID == obj.ID || attempt == maxOpenAttempts {
			return nil, nil, 0, handler.WrapError(http.StatusInternalServerError, true, err, "blob of %s/%s is missing", ns.Name, key)
		}
		obj = current
	}
}

func (d *download) readNext() error {
	return submitted(d.p.reactor.Read(d.rc, d.p.chunkSize, d.b.SafeWrapper(d.onData)))
}

// onData forwards one chunk of the blob. Failures past this point can only
// abort the response.
func (d *download) onData(c reactor.Completion) error {
	if c.Err != nil && !c.EOF() {
		return handler.WrapError(http.StatusInternalServerError, true, c.Err, "failed to read blob")
	}

	if c.N > 0 {
		n, err := d.s.Write(c.Data)
		d.p.metrics.AddDownloaded(d.ns.Name, int64(n))
		if err != nil {
			return handler.WrapError(http.StatusBadRequest, false, err, "client went away")
		}
	}

	if c.EOF() {
		return nil
	}
	return d.readNext()
}

func (p *Proxy) handleDelete(b *handler.Boundary, s *stream.HTTPStream) error {
	r := s.Request()

	ns, key, err := p.target(r)
	if err != nil {
		return err
	}
	if err := p.authorize(r, ns, true); err != nil {
		return err
	}
	if ns.ReadOnly {
		return handler.ClientError(http.StatusForbidden, "namespace %s is read-only", ns.Name)
	}
	if _, err := p.lookup(s, ns, key); err != nil {
		return err
	}

	// Record first, so a failure can only leave an orphaned blob
	remove := func(ctx context.Context) error {
		obj, err := p.store.DeleteObject(ctx, ns.Name, key)
		if err != nil {
			return err
		}
		p.dropBlob(s, ns.Name, obj.ID)
		return nil
	}

	return submitted(p.reactor.Do(remove, b.SafeWrapper(func(c reactor.Completion) error {
		if errors.Is(c.Err, store.ErrObjectNotFound) {
			return handler.WrapError(http.StatusNotFound, false, c.Err, "object %s/%s", ns.Name, key)
		}
		if c.Err != nil {
			return handler.WrapError(http.StatusInternalServerError, true, c.Err, "failed to delete object")
		}

		s.Log().Info("object deleted", map[string]interface{}{
			"namespace": ns.Name,
			"key":       key,
		})
		return s.SendReply(http.StatusOK)
	})))
}

func (p *Proxy) handleInfo(b *handler.Boundary, s *stream.HTTPStream) error {
	r := s.Request()

	ns, key, err := p.target(r)
	if err != nil {
		return err
	}
	if err := p.authorize(r, ns, false); err != nil {
		return err
	}

	obj, err := p.lookup(s, ns, key)
	if err != nil {
		return err
	}
	return s.ReplyJSON(http.StatusOK, obj)
}

// HealthStatus is the /health reply
type HealthStatus struct {
	Status  string                `json:"status"`
	Reactor reactor.StatsSnapshot `json:"reactor"`
	Free    uint64                `json:"free_bytes"`
}

func (p *Proxy) handleHealth(b *handler.Boundary, s *stream.HTTPStream) error {
	if err := p.store.HealthCheck(); err != nil {
		return handler.WrapError(http.StatusServiceUnavailable, true, err, "metadata store unavailable")
	}

	free, err := p.capacity.Free()
	if err != nil {
		return handler.WrapError(http.StatusServiceUnavailable, true, err, "capacity check failed")
	}

	status := "ok"
	if free < p.minFree {
		status = "degraded"
	}
	return s.ReplyJSON(http.StatusOK, HealthStatus{
		Status:  status,
		Reactor: p.reactor.Stats(),
		Free:    free,
	})
}
