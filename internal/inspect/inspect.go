// Package inspect serves a read-only HTTP view of a live environment: its
// records, generation, in-flight requests and metrics, plus ad hoc reads of
// GraphQL queries against the store.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/environment"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/selector"
)

// Handler is an http.Handler over one environment.
type Handler struct {
	env *environment.Environment
	opt *Options
	log logrus.FieldLogger
	mux *http.ServeMux
}

func New(env *environment.Environment, opts ...Option) *Handler {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	h := &Handler{
		env: env,
		opt: o,
		log: o.Logger.WithField("component", "inspect"),
		mux: http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /records", h.records)
	h.mux.HandleFunc("GET /records/{id}", h.record)
	h.mux.HandleFunc("GET /generation", h.generation)
	h.mux.HandleFunc("GET /requests", h.requests)
	h.mux.HandleFunc("POST /read", h.read)
	if o.Gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.NewContext(ctx)
	r = r.WithContext(ctx)

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		d := time.Since(start)
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: sw.status, Duration: d})
		h.log.WithFields(logrus.Fields{
			"request":  rid,
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": d,
		}).Debug("served")
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(sw, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusNoContent)
		return
	}
	if h.env.Disposed() {
		writeJSON(sw, http.StatusServiceUnavailable, errorBody(environment.ErrDisposed.Error()), h.opt.Pretty)
		return
	}
	h.mux.ServeHTTP(sw, r)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// records lists effective records in wire form, optionally only those whose
// typename is ?type=.
func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	typename := r.URL.Query().Get("type")
	out := map[string]any{}
	for id, rec := range h.env.Store().Records() {
		if typename != "" && rec.Typename() != typename {
			continue
		}
		out[id] = record.ToWire(rec)
	}
	writeJSON(w, http.StatusOK, out, h.opt.Pretty)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.env.Store().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("record "+id+" not found"), h.opt.Pretty)
		return
	}
	writeJSON(w, http.StatusOK, record.ToWire(rec), h.opt.Pretty)
}

type generationBody struct {
	Generation uint64   `json:"generation"`
	Layers     []string `json:"layers"`
	Pending    int      `json:"pendingMutations"`
}

func (h *Handler) generation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, generationBody{
		Generation: h.env.Store().Generation(),
		Layers:     h.env.Store().Layers(),
		Pending:    h.env.Mutations().Len(),
	}, h.opt.Pretty)
}

func (h *Handler) requests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"inFlight": h.env.Tracker().InFlight()}, h.opt.Pretty)
}

// ------------------ Ad hoc reads ------------------

type readRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type readResult struct {
	Data       any            `json:"data"`
	Errors     []errorEntry   `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type errorEntry struct {
	Message string `json:"message"`
}

func errorBody(msg string) readResult {
	return readResult{Errors: []errorEntry{{Message: msg}}}
}

const errBodyTooLargeMessage = "body too large"

var errBodyTooLarge = errors.New(errBodyTooLargeMessage)

// read runs a query against the store without touching the network.
func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	req, err := parseRead(r, h.opt.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody(err.Error()), h.opt.Pretty)
		return
	}
	doc, err := h.env.Compile(req.Query)
	if err != nil {
		writeJSON(w, http.StatusOK, errorBody(err.Error()), h.opt.Pretty)
		return
	}
	op := pickOperation(doc, req.OperationName)
	if op == nil {
		writeJSON(w, http.StatusOK, errorBody("unknown operation "+req.OperationName), h.opt.Pretty)
		return
	}
	vars, err := op.Variables(req.Variables)
	if err != nil {
		writeJSON(w, http.StatusOK, errorBody(err.Error()), h.opt.Pretty)
		return
	}
	snap, err := h.env.Lookup(selector.New(op.Root, record.RootID, vars))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()), h.opt.Pretty)
		return
	}
	res := readResult{
		Data: snap.Data,
		Extensions: map[string]any{
			"generation":  snap.Generation,
			"missingData": snap.IsMissingData,
			"suspended":   snap.Suspended,
			"seenRecords": snap.SeenRecords.Sorted(),
		},
	}
	if len(snap.MissingFields) > 0 {
		res.Extensions["missingFields"] = snap.MissingFields
	}
	if snap.Err != nil {
		res.Errors = []errorEntry{{Message: snap.Err.Error()}}
	}
	writeJSON(w, http.StatusOK, res, h.opt.Pretty)
}

// pickOperation returns the operation called name, or the only operation of
// doc when name is empty.
func pickOperation(doc *selector.Document, name string) *selector.Operation {
	if name != "" {
		return doc.Operation(name)
	}
	if len(doc.Operations) != 1 {
		return nil
	}
	for _, op := range doc.Operations {
		return op
	}
	return nil
}

func parseRead(r *http.Request, maxBody int64) (readRequest, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return readRequest{}, errors.New("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return readRequest{}, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return readRequest{}, errBodyTooLarge
	}
	var req readRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return readRequest{}, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return readRequest{}, errors.New("missing 'query'")
	}
	return req, nil
}

// ------------------ Response formatting ------------------

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := false
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		if o == "*" || o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

// Routes lists the paths served, for the CLI banner.
func (h *Handler) Routes() []string {
	routes := []string{"/records", "/records/{id}", "/generation", "/requests", "/read"}
	if h.opt.Gatherer != nil {
		routes = append(routes, "/metrics")
	}
	sort.Strings(routes)
	return routes
}
