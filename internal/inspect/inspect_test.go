package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/environment"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/graphtest"
	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/record"
)

func newEnv(t *testing.T, opts ...environment.Option) *environment.Environment {
	t.Helper()
	return environment.New(append([]environment.Option{environment.WithSchema(graphtest.Schema(t))}, opts...)...)
}

func publish(t *testing.T, env *environment.Environment) {
	t.Helper()
	_, err := env.Store().Publish(record.Source{
		"4": {record.IDKey: "4", record.TypenameKey: "User", "name": "Mark", "bestFriend": record.Ref{ID: "5"}},
		"5": {record.IDKey: "5", record.TypenameKey: "User", "name": "Zuck"},
	})
	require.NoError(t, err)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRecords(t *testing.T) {
	env := newEnv(t)
	publish(t, env)
	h := New(env, WithPretty())

	w := serve(h, "GET", "/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	goldie.New(t).Assert(t, "records", w.Body.Bytes())

	w = serve(h, "GET", "/records?type=Page", "")
	require.JSONEq(t, `{}`, w.Body.String())

	w = serve(h, "GET", "/records/5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"__id":"5","__typename":"User","name":"Zuck"}`, w.Body.String())

	w = serve(h, "GET", "/records/6", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerationAndRequests(t *testing.T) {
	env := newEnv(t)
	publish(t, env)
	h := New(env)

	w := serve(h, "GET", "/generation", "")
	require.JSONEq(t, `{"generation":1,"layers":[],"pendingMutations":0}`, w.Body.String())

	w = serve(h, "GET", "/requests", "")
	require.JSONEq(t, `{"inFlight":[]}`, w.Body.String())
}

func TestRead(t *testing.T) {
	env := newEnv(t)
	doc, err := env.Compile(`query Me { me { id name } }`)
	require.NoError(t, err)
	_, err = env.CommitPayload(doc.Operation("Me"), nil, map[string]any{
		"me": map[string]any{"id": "4", "name": "Mark"},
	})
	require.NoError(t, err)
	h := New(env)

	w := serve(h, "POST", "/read", `{"query":"query Me { me { id name } }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data       map[string]any `json:"data"`
		Errors     []errorEntry   `json:"errors"`
		Extensions map[string]any `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, map[string]any{"me": map[string]any{"id": "4", "name": "Mark"}}, res.Data)
	require.Equal(t, false, res.Extensions["missingData"])
	require.Equal(t, []any{"4", record.RootID}, res.Extensions["seenRecords"])

	w = serve(h, "POST", "/read", `{"query":"query Q { me { username } }"}`)
	res.Extensions = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, true, res.Extensions["missingData"])
	require.Equal(t, []any{"4.username"}, res.Extensions["missingFields"])

	w = serve(h, "POST", "/read", `{"query":"query A { me { id } } query B { me { id } }"}`)
	require.Contains(t, w.Body.String(), "unknown operation")

	w = serve(h, "POST", "/read", `{"query":"query Nope { nope }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "errors")

	w = serve(h, "POST", "/read", `{"query":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, "GET", "/read", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMaxBodyBytes(t *testing.T) {
	h := New(newEnv(t), WithMaxBodyBytes(10))
	w := serve(h, "POST", "/read", `{"query":"1234567890"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newEnv(t, environment.WithMetrics(metrics.New(reg)))
	publish(t, env)

	w := serve(New(env), "GET", "/metrics", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(New(env, WithGatherer(reg)), "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "graphcache_store_publish_total")
	require.Contains(t, w.Body.String(), "graphcache_store_generation 1")
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(newEnv(t), WithCORS("*"))

	req := httptest.NewRequest("GET", "/generation", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest("OPTIONS", "/read", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))

	h = New(newEnv(t), WithCORS("http://a.example"))
	req = httptest.NewRequest("GET", "/generation", nil)
	req.Header.Set("Origin", "http://b.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsAndDisposed(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var statuses []int
	eventbus.On(bus, func(_ context.Context, e events.HTTPFinish) { statuses = append(statuses, e.Status) })

	env := newEnv(t)
	h := New(env)
	serve(h, "GET", "/generation", "")
	env.Dispose()
	w := serve(h, "GET", "/generation", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, []int{http.StatusOK, http.StatusServiceUnavailable}, statuses)
}
