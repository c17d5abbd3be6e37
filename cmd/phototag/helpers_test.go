package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/chriskillpack/phototag"
	"github.com/chriskillpack/phototag/internal/bridge"
)

// newTestOllama starts a mock Ollama that answers every generate request with
// response. Images whose contents start with "fail" get a 500.
func newTestOllama(t *testing.T, response string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Images [][]byte }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if len(body.Images) != 1 || bytes.HasPrefix(body.Images[0], []byte("fail")) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response":"` + response + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBridge(t *testing.T, srv *httptest.Server) *bridge.Bridge {
	t.Helper()
	b, _ := newTestBridgeWithRegistry(t, srv)
	return b
}

func newTestBridgeWithRegistry(t *testing.T, srv *httptest.Server) (*bridge.Bridge, *prometheus.Registry) {
	t.Helper()
	tg, err := phototag.Init(phototag.InitOptions{OllamaServer: srv.URL, HttpClient: srv.Client()})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	return bridge.New(bridge.NewService(tg), bridge.WithRegisterer(reg)), reg
}

// writeImages creates a folder containing the named files, each holding its
// own name as content.
func writeImages(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	return dir
}
