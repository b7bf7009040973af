// Package api is the HTTP command surface of the coordinator. Handlers
// decode requests, run the engine command, translate errors to statuses and
// forward the resulting effect records to replication.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/geo"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/replication"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/tracing"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

type Handler struct {
	engine    *indexer.Engine
	publisher replication.Publisher
	// readOnly rejects mutations; replicas only change through replication.
	readOnly bool
	logger   *slog.Logger
}

func NewHandler(engine *indexer.Engine, publisher replication.Publisher, readOnly bool) *Handler {
	if publisher == nil {
		publisher = replication.Nop{}
	}
	return &Handler{
		engine:    engine,
		publisher: publisher,
		readOnly:  readOnly,
		logger:    logger.WithComponent("api"),
	}
}

// command wraps a mutating handler: it rejects writes on a replica, traces
// the call and publishes the effect record on success.
func (h *Handler) command(name string, fn func(w http.ResponseWriter, r *http.Request) (*effect.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.readOnly {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusForbidden, "replica is read-only"))
			return
		}
		ctx, span := tracing.StartSpan(r.Context(), name, middleware.GetRequestID(r.Context()))
		rec, err := fn(w, r.WithContext(ctx))
		span.Finish(err)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if rec != nil {
			h.publisher.Publish(rec)
		}
	}
}

type createIndexRequest struct {
	Name      string        `json:"name"`
	Fields    []index.Field `json:"fields"`
	WithRules bool          `json:"with_rules"`
}

func (h *Handler) CreateIndex(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var req createIndexRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	rec, err := h.engine.CreateIndex(r.Context(), req.Name, req.Fields, req.WithRules)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"index": req.Name, "status": "created"})
	return rec, nil
}

func (h *Handler) DropIndex(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	keepDocs := queryBool(r, "keepdocs")
	rec, err := h.engine.DropIndex(r.Context(), r.PathValue("index"), keepDocs)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"index": rec.Index(), "status": "dropped"})
	return rec, nil
}

func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"indexes": h.engine.ListIndexes()})
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Info(r.Context(), r.PathValue("index"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var req indexer.AddRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	rec, err := h.engine.AddDocument(r.Context(), r.PathValue("index"), req)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"key": req.Key, "status": "indexed"})
	return rec, nil
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.GetDocuments(r.Context(), r.PathValue("index"), r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs[0] == nil {
		h.writeError(w, r, apperrors.ErrDocumentNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, docs[0])
}

// GetDocuments answers MGET-style lookups: one entry per key, null for keys
// that are not indexed.
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	keys := r.URL.Query()["key"]
	if len(keys) == 0 {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'key' is required"))
		return
	}
	docs, err := h.engine.GetDocuments(r.Context(), r.PathValue("index"), keys...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	out, err := h.engine.Delete(r.Context(), r.PathValue("index"), r.PathValue("key"), queryBool(r, "dd"))
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": out.Count, "state": out.State.String()})
	return out.Effect, nil
}

// SetPayload takes the raw request body as the new payload.
func (h *Handler) SetPayload(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "reading payload: %v", err)
	}
	rec, err := h.engine.SetPayload(r.Context(), r.PathValue("index"), r.PathValue("key"), payload)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return rec, nil
}

type aliasRequest struct {
	Alias string `json:"alias"`
	Index string `json:"index"`
}

func (h *Handler) AliasAdd(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var req aliasRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	rec, err := h.engine.AliasAdd(r.Context(), req.Alias, req.Index)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
	return rec, nil
}

func (h *Handler) AliasUpdate(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var req aliasRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	rec, err := h.engine.AliasUpdate(r.Context(), r.PathValue("alias"), req.Index)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "prior": rec.Prior})
	return rec, nil
}

func (h *Handler) AliasDel(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	rec, err := h.engine.AliasDel(r.Context(), r.PathValue("alias"))
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return rec, nil
}

// Resolve reports the index a name or alias refers to.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	target, ok := h.engine.Resolve(name)
	if !ok {
		h.writeError(w, r, apperrors.ErrUnknownIndex)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"name": name, "index": target})
}

type synonymRequest struct {
	Terms []string `json:"terms"`
}

func (h *Handler) SynAdd(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var req synonymRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	id, rec, err := h.engine.SynAdd(r.Context(), r.PathValue("index"), req.Terms)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusCreated, map[string]uint32{"id": id})
	return rec, nil
}

// SynUpdate adds terms to a group; ?force=true skips the id check.
func (h *Handler) SynUpdate(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid synonym group id %q", r.PathValue("id"))
	}
	var req synonymRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	var rec *effect.Record
	if queryBool(r, "force") {
		rec, err = h.engine.SynForceUpdate(r.Context(), r.PathValue("index"), uint32(id), req.Terms)
	} else {
		rec, err = h.engine.SynUpdate(r.Context(), r.PathValue("index"), uint32(id), req.Terms)
	}
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return rec, nil
}

func (h *Handler) SynDump(w http.ResponseWriter, r *http.Request) {
	dump, err := h.engine.SynDump(r.Context(), r.PathValue("index"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(map[string][]uint32, len(dump))
	for term, ids := range dump.All() {
		out[term] = ids
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"synonyms": out})
}

func (h *Handler) RuleAdd(w http.ResponseWriter, r *http.Request) (*effect.Record, error) {
	var rule rules.Rule
	if err := decodeBody(r, &rule); err != nil {
		return nil, err
	}
	rec, err := h.engine.RuleAdd(r.Context(), r.PathValue("index"), rule)
	if err != nil {
		return nil, err
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"rule": rule.Name, "status": "added"})
	return rec, nil
}

// GeoRadius answers ?point=lon,lat&radius=10km on a GEO field.
func (h *Handler) GeoRadius(w http.ResponseWriter, r *http.Request) {
	center, err := geo.ParsePoint(r.URL.Query().Get("point"))
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "point: %v", err))
		return
	}
	radius := r.URL.Query().Get("radius")
	if radius == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'radius' is required"))
		return
	}
	keys, err := h.engine.GeoRadius(r.Context(), r.PathValue("index"), r.PathValue("field"), center, radius)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "total": len(keys)})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
