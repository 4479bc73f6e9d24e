// Package crud serves the generic document collections behind the gate,
// either from the local document store or by proxying to an upstream server.
package crud

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmusicplayer/authgate/internal/docstore"
	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/middleware"
)

const (
	defaultPageLimit = 10
	maxBodyBytes     = 1 << 20
	totalCountHeader = "X-Total-Count"
	passwordField    = "password"
	idField          = "id"
)

// Router is a json-server style REST surface over a docstore.
// The credential collections are owned by the auth services: reset tokens
// are never exposed and users can only be read.
type Router struct {
	docs *docstore.Store
	log  *logger.Logger
}

func NewRouter(docs *docstore.Store, log *logger.Logger) *Router {
	return &Router{docs: docs, log: log.WithComponent("crud")}
}

// Register mounts the routes on r.
func (rt *Router) Register(r chi.Router) {
	reads := r.With(middleware.ETag)
	reads.Get("/db", rt.handle(rt.catalogue))
	reads.Get("/api/db", rt.handle(rt.snapshot))
	reads.Get("/api/{collection}", rt.handle(rt.list))
	reads.Get("/api/{collection}/{id}", rt.handle(rt.get))

	r.Post("/api/{collection}", rt.handle(rt.create))
	r.Put("/api/{collection}/{id}", rt.handle(rt.replace))
	r.Patch("/api/{collection}/{id}", rt.handle(rt.update))
	r.Delete("/api/{collection}/{id}", rt.handle(rt.remove))
}

func (rt *Router) handle(fn apperrors.Handler) http.HandlerFunc {
	return apperrors.HandleFunc(fn, func(r *http.Request, err error) {
		rt.log.Error(r.Context(), "document request failed", err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	})
}

// Catalogue lists the collection names without any of their records.
// It is the public view of the store root.
type Catalogue struct {
	Collections []string `json:"collections"`
}

func (rt *Router) catalogue(w http.ResponseWriter, r *http.Request) error {
	names := make([]string, 0)
	for _, name := range rt.docs.Collections() {
		if name != docstore.CollectionResetTokens {
			names = append(names, name)
		}
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, Catalogue{Collections: names})
	return nil
}

// snapshot serves the whole document minus credentials. Gated.
func (rt *Router) snapshot(w http.ResponseWriter, r *http.Request) error {
	doc := rt.docs.Snapshot()
	delete(doc, docstore.CollectionResetTokens)
	for name, recs := range doc {
		doc[name] = redactAll(recs)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, doc)
	return nil
}

// collection resolves the {collection} parameter; writable requires a
// collection the auth services do not own.
func (rt *Router) collection(r *http.Request, writable bool) (string, error) {
	name := chi.URLParam(r, "collection")
	if name == docstore.CollectionResetTokens || !rt.docs.HasCollection(name) {
		return "", apperrors.NotFound(name)
	}
	if writable && name == docstore.CollectionUsers {
		return "", apperrors.MethodNotAllowed("users are managed by the auth endpoints")
	}
	return name, nil
}

func (rt *Router) list(w http.ResponseWriter, r *http.Request) error {
	name, err := rt.collection(r, false)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	recs := rt.docs.Filter(name, queryMatcher(q))
	sortRecords(recs, q.Get("_sort"), q.Get("_order"))

	page, limit := q.Get("_page"), q.Get("_limit")
	if page != "" || limit != "" {
		w.Header().Set(totalCountHeader, strconv.Itoa(len(recs)))
		recs = paginate(recs, atoiOr(page, 1), atoiOr(limit, defaultPageLimit))
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, redactAll(recs))
	return nil
}

func (rt *Router) get(w http.ResponseWriter, r *http.Request) error {
	name, err := rt.collection(r, false)
	if err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	rec, ok := rt.docs.Find(name, docstore.FieldEquals(idField, id))
	if !ok {
		return apperrors.NotFound(name + "/" + id)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, redact(rec))
	return nil
}

func (rt *Router) create(w http.ResponseWriter, r *http.Request) error {
	name, err := rt.collection(r, true)
	if err != nil {
		return err
	}
	rec, err := decodeRecord(r)
	if err != nil {
		return err
	}

	if _, ok := rec[idField]; ok {
		id := docstore.StringValue(rec[idField])
		if _, exists := rt.docs.Find(name, docstore.FieldEquals(idField, id)); exists {
			return apperrors.Conflict("duplicate id " + id)
		}
	} else {
		rec[idField] = nextID(rt.docs.Filter(name, nil))
	}

	if err := rt.docs.Push(r.Context(), name, rec); err != nil {
		return apperrors.StoreError("failed to write document").WithCause(err)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, redact(rec))
	return nil
}

func (rt *Router) replace(w http.ResponseWriter, r *http.Request) error {
	return rt.write(w, r, func(name string, match func(docstore.Record) bool, rec docstore.Record) (bool, error) {
		return rt.docs.Replace(r.Context(), name, match, rec)
	})
}

func (rt *Router) update(w http.ResponseWriter, r *http.Request) error {
	return rt.write(w, r, func(name string, match func(docstore.Record) bool, rec docstore.Record) (bool, error) {
		return rt.docs.Assign(r.Context(), name, match, rec)
	})
}

// write applies a PUT or PATCH. The id in the path always wins over the body.
func (rt *Router) write(w http.ResponseWriter, r *http.Request, apply func(string, func(docstore.Record) bool, docstore.Record) (bool, error)) error {
	name, err := rt.collection(r, true)
	if err != nil {
		return err
	}
	rec, err := decodeRecord(r)
	if err != nil {
		return err
	}

	id := chi.URLParam(r, "id")
	match := docstore.FieldEquals(idField, id)
	existing, ok := rt.docs.Find(name, match)
	if !ok {
		return apperrors.NotFound(name + "/" + id)
	}
	rec[idField] = existing[idField]

	found, err := apply(name, match, rec)
	if err != nil {
		return apperrors.StoreError("failed to write document").WithCause(err)
	}
	if !found {
		return apperrors.NotFound(name + "/" + id)
	}

	updated, _ := rt.docs.Find(name, match)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, redact(updated))
	return nil
}

func (rt *Router) remove(w http.ResponseWriter, r *http.Request) error {
	name, err := rt.collection(r, true)
	if err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	n, err := rt.docs.Remove(r.Context(), name, docstore.FieldEquals(idField, id))
	if err != nil {
		return apperrors.StoreError("failed to write document").WithCause(err)
	}
	if n == 0 {
		return apperrors.NotFound(name + "/" + id)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, struct{}{})
	return nil
}

func decodeRecord(r *http.Request) (docstore.Record, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.BadRequest("invalid request body").WithCause(err)
	}
	rec := docstore.Record{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return rec, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, apperrors.BadRequest("request body must be a JSON object").WithCause(err)
	}
	return rec, nil
}

// queryMatcher builds an equality filter from every query parameter that
// is not a control parameter.
func queryMatcher(q map[string][]string) func(docstore.Record) bool {
	var matchers []func(docstore.Record) bool
	for field, values := range q {
		if strings.HasPrefix(field, "_") || field == passwordField {
			continue
		}
		for _, v := range values {
			matchers = append(matchers, docstore.FieldEquals(field, v))
		}
	}
	if len(matchers) == 0 {
		return nil
	}
	return func(rec docstore.Record) bool {
		for _, m := range matchers {
			if !m(rec) {
				return false
			}
		}
		return true
	}
}

func sortRecords(recs []docstore.Record, field, order string) {
	if field == "" {
		return
	}
	desc := strings.EqualFold(order, "desc")
	sort.SliceStable(recs, func(i, j int) bool {
		less := compareValues(recs[i][field], recs[j][field])
		if desc {
			return less > 0
		}
		return less < 0
	})
}

// compareValues orders numbers numerically and everything else by string form.
func compareValues(a, b any) int {
	af, aok := number(a)
	bf, bok := number(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(docstore.StringValue(a), docstore.StringValue(b))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	}
	return 0, false
}

func paginate(recs []docstore.Record, page, limit int) []docstore.Record {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > len(recs) {
		limit = len(recs)
	}
	if limit == 0 || page-1 >= (len(recs)+limit-1)/limit {
		return []docstore.Record{}
	}
	start := (page - 1) * limit
	end := min(start+limit, len(recs))
	return recs[start:end]
}

// nextID continues an integer id sequence, or falls back to a UUID when
// the collection uses non-numeric ids.
func nextID(recs []docstore.Record) any {
	var max int64
	for _, rec := range recs {
		n, err := strconv.ParseInt(docstore.StringValue(rec[idField]), 10, 64)
		if err != nil {
			return uuid.NewString()
		}
		if n > max {
			max = n
		}
	}
	return json.Number(strconv.FormatInt(max+1, 10))
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func redact(rec docstore.Record) docstore.Record {
	delete(rec, passwordField)
	return rec
}

func redactAll(recs []docstore.Record) []docstore.Record {
	if recs == nil {
		return []docstore.Record{}
	}
	for _, rec := range recs {
		redact(rec)
	}
	return recs
}
