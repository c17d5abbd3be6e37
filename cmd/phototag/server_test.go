package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	b, reg := newTestBridgeWithRegistry(t, newTestOllama(t, "Street, night"))
	srv := NewServer(b, reg, "127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(srv.serveHandler())
	defer ts.Close()

	invoke := func(t *testing.T, command, body string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Post(ts.URL+"/invoke/"+command, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	t.Run("check_ollama", func(t *testing.T) {
		status, out := invoke(t, "check_ollama", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, out["result"])
	})

	t.Run("generate_tags", func(t *testing.T) {
		dir := writeImages(t, "city.webp")
		body, _ := json.Marshal(map[string]string{"imagePath": dir + "/city.webp"})
		status, out := invoke(t, "generate_tags", string(body))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []any{"street", "night"}, out["result"])
	})

	t.Run("scan_folder error", func(t *testing.T) {
		status, out := invoke(t, "scan_folder", `{"folderPath":"/definitely/not/here"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "folder does not exist", out["error"])
	})

	t.Run("oversized body", func(t *testing.T) {
		path := strings.Repeat("a", maxArgsSize)
		status, out := invoke(t, "generate_tags", `{"imagePath":"`+path+`"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, status)
		assert.Contains(t, out["error"], "too large")
	})

	t.Run("unknown command", func(t *testing.T) {
		status, out := invoke(t, "rename_file", `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, `unknown command "rename_file"`, out["error"])
	})

	t.Run("invoke requires POST", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/invoke/check_ollama")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("commands", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/commands")
		require.NoError(t, err)
		defer resp.Body.Close()
		var cmds []string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&cmds))
		assert.Equal(t, []string{"scan_folder", "generate_tags", "check_ollama"}, cmds)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `phototag_commands_total{command="check_ollama",outcome="ok"} 1`)
	})
}
