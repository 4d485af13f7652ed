package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/storage"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
	"github.com/iderikon/mediastorage-proxy/pkg/stream"
)

// upload is the state of one streaming upload. The request body is read
// chunk by chunk on the reactor; each chunk is written to the backend
// before the next one is requested.
//
// Every upload writes its own blob, named by the new object id. The blob is
// only reachable once the metadata record points at it, so a losing or
// failed upload never touches the data of the key's current version.
type upload struct {
	p         *Proxy
	b         *handler.Boundary
	s         *stream.HTTPStream
	ns        models.Namespace
	key       string
	id        string
	writer    storage.Writer
	hash      hash.Hash
	size      int64
	committed atomic.Bool
}

// handleUpload checks the request headers and starts reading the body
func (p *Proxy) handleUpload(b *handler.Boundary, s *stream.HTTPStream) error {
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
	if err := p.throttle(r); err != nil {
		return err
	}
	if !ns.Allows(r.ContentLength) {
		return handler.ClientError(http.StatusRequestEntityTooLarge,
			"object of %d bytes exceeds namespace limit of %d", r.ContentLength, ns.MaxObjectSize)
	}
	if err := p.checkCapacity(r.ContentLength); err != nil {
		return err
	}

	if ns.StaticKeys {
		_, err := p.store.GetObject(s.Context(), ns.Name, key)
		switch {
		case err == nil:
			return handler.ClientError(http.StatusConflict, "key %s already exists in static namespace %s", key, ns.Name)
		case !errors.Is(err, store.ErrObjectNotFound):
			return handler.WrapError(http.StatusInternalServerError, true, err, "metadata lookup failed")
		}
	}

	id := uuid.New().String()
	w, err := p.backend.Create(s.Context(), ns.Name, id)
	if err != nil {
		return handler.WrapError(http.StatusInternalServerError, true, err, "failed to create blob")
	}

	u := &upload{
		p:      p,
		b:      b,
		s:      s,
		ns:     ns,
		key:    key,
		id:     id,
		writer: w,
		hash:   sha256.New(),
	}
	s.OnClose(u.cleanup)

	s.Log().Debug("upload started", map[string]interface{}{
		"namespace":      ns.Name,
		"key":            key,
		"id":             id,
		"content_length": r.ContentLength,
	})
	return u.readNext()
}

// checkCapacity fails with 507 when the upload would leave less than the
// configured reserve free
func (p *Proxy) checkCapacity(size int64) error {
	if p.minFree == 0 && size <= 0 {
		return nil
	}
	free, err := p.capacity.Free()
	if err != nil {
		return handler.WrapError(http.StatusInternalServerError, true, err, "capacity check failed")
	}

	need := p.minFree
	if size > 0 {
		need += uint64(size)
	}
	if free < need {
		return handler.ServerError(http.StatusInsufficientStorage,
			"not enough free space: %d bytes free, %d needed", free, need)
	}
	return nil
}

func (u *upload) readNext() error {
	return submitted(u.p.reactor.Read(u.s.Request().Body, u.p.chunkSize, u.b.SafeWrapper(u.onData)))
}

// onData handles one chunk of the request body
func (u *upload) onData(c reactor.Completion) error {
	if c.Err != nil && !c.EOF() {
		return handler.WrapError(http.StatusBadRequest, false, c.Err, "failed to read request body")
	}
	if c.N == 0 {
		return u.commit()
	}

	u.size += c.N
	if !u.ns.Allows(u.size) {
		return handler.ClientError(http.StatusRequestEntityTooLarge,
			"object exceeds namespace limit of %d bytes", u.ns.MaxObjectSize)
	}
	u.hash.Write(c.Data)

	eof := c.EOF()
	written := handler.Wrap(u.b, func(w reactor.Completion) error {
		return u.onWritten(w, eof)
	})
	return submitted(u.p.reactor.Write(u.writer, c.Data, written))
}

// onWritten continues with the next chunk once the previous one is stored
func (u *upload) onWritten(c reactor.Completion, eof bool) error {
	if c.Err != nil {
		return handler.WrapError(http.StatusInternalServerError, true, c.Err, "failed to write blob")
	}
	u.p.metrics.AddUploaded(u.ns.Name, c.N)

	if eof {
		return u.commit()
	}
	return u.readNext()
}

func (u *upload) commit() error {
	return submitted(u.p.reactor.Do(func(ctx context.Context) error {
		if err := u.writer.Commit(ctx); err != nil {
			return err
		}
		u.committed.Store(true)
		return nil
	}, handler.Wrap(u.b, u.onCommitted)))
}

// onCommitted points the key at the new blob and replies. Whichever blob
// loses, the superseded version or this upload's own, is removed afterwards.
func (u *upload) onCommitted(c reactor.Completion) error {
	if c.Err != nil {
		return handler.WrapError(http.StatusInternalServerError, true, c.Err, "failed to commit blob")
	}

	contentType := u.s.Request().Header.Get("Content-Type")
	if contentType == "" {
		contentType = u.ns.ContentType
	}
	obj := &models.Object{
		ID:          u.id,
		Namespace:   u.ns.Name,
		Key:         u.key,
		Size:        u.size,
		ContentType: contentType,
		Checksum:    hex.EncodeToString(u.hash.Sum(nil)),
	}

	prev, err := u.p.store.PutObject(u.s.Context(), obj, !u.ns.StaticKeys)
	if err != nil {
		u.p.dropBlob(u.s, u.ns.Name, u.id)
		if errors.Is(err, store.ErrObjectExists) {
			return handler.WrapError(http.StatusConflict, false, err, "key %s already exists in static namespace %s", u.key, u.ns.Name)
		}
		return handler.WrapError(http.StatusInternalServerError, true, err, "failed to record metadata")
	}
	if prev != nil && prev.ID != u.id {
		u.p.dropBlob(u.s, u.ns.Name, prev.ID)
	}

	u.s.Log().Info("upload complete", map[string]interface{}{
		"namespace": u.ns.Name,
		"key":       u.key,
		"id":        u.id,
		"size":      u.size,
	})
	return u.s.ReplyJSON(http.StatusOK, obj.Result())
}

// cleanup drops an uncommitted blob when the request ends
func (u *upload) cleanup() {
	if u.committed.Load() {
		return
	}
	if err := u.writer.Abort(); err != nil && !errors.Is(err, storage.ErrAborted) {
		u.s.Log().Warn("failed to abort upload", map[string]interface{}{
			"namespace": u.ns.Name,
			"key":       u.key,
			"error":     err.Error(),
		})
	}
}

// dropBlob removes a blob no record points at. Failures leave an orphan
// behind and are only logged.
func (p *Proxy) dropBlob(s *stream.HTTPStream, namespace, id string) {
	err := p.backend.Remove(context.Background(), namespace, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Log().Warn("failed to remove orphaned blob", map[string]interface{}{
			"namespace": namespace,
			"id":        id,
			"error":     err.Error(),
		})
	}
}
