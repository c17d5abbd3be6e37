package phototag

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chriskillpack/phototag/tagging"
)

func TestInit(t *testing.T) {
	t.Run("no backend", func(t *testing.T) {
		if _, err := Init(InitOptions{}); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("both backends", func(t *testing.T) {
		_, err := Init(InitOptions{OllamaServer: "http://localhost:11434", LlamaServer: "http://localhost:8080"})
		if err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("ollama", func(t *testing.T) {
		tg, err := Init(InitOptions{OllamaServer: "http://localhost:11434"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "ollama", tg.Name(); expected != actual {
			t.Errorf("Expected %s backend, got %s", expected, actual)
		}
		if expected, actual := "moondream", tg.Model(); expected != actual {
			t.Errorf("Expected model %s, got %s", expected, actual)
		}
	})

	t.Run("llama", func(t *testing.T) {
		tg, err := Init(InitOptions{LlamaServer: "http://localhost:8080"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "llama", tg.Name(); expected != actual {
			t.Errorf("Expected %s backend, got %s", expected, actual)
		}
	})
}

func newOllama(t *testing.T, handler http.HandlerFunc) *Tagger {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tg, err := Init(InitOptions{OllamaServer: srv.URL, HttpClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	return tg
}

func TestGenerateTags(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		tg := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("server should not be called")
		})

		_, err := tg.GenerateTags(t.Context(), filepath.Join(t.TempDir(), "gone.jpg"))
		var ioerr *IOError
		if !errors.As(err, &ioerr) {
			t.Fatalf("Expected IOError, got %v", err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Expected wrapped ErrNotExist, got %v", err)
		}
	})

	t.Run("sends file contents", func(t *testing.T) {
		image := []byte{0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43}
		path := filepath.Join(t.TempDir(), "photo.jpg")
		if err := os.WriteFile(path, image, 0o644); err != nil {
			t.Fatal(err)
		}

		var received []byte
		tg := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct{ Images [][]byte }
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Error(err)
			}
			if len(body.Images) == 1 {
				received = body.Images[0]
			}
			w.Write([]byte(`{"response":"Food, breakfast"}`))
		})

		tags, err := tg.GenerateTags(t.Context(), path)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected := []string{"food", "breakfast"}; !slices.Equal(expected, tags) {
			t.Errorf("Expected %v, got %v", expected, tags)
		}
		// encoding/json decodes base64 strings into []byte
		if !slices.Equal(image, received) {
			t.Errorf("Expected server to receive %v, got %v", image, received)
		}
	})

	t.Run("server error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "photo.jpg")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		tg := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := tg.GenerateTags(t.Context(), path)
		var serr *tagging.ServerError
		if !errors.As(err, &serr) {
			t.Fatalf("Expected ServerError, got %v", err)
		}
		if expected, actual := http.StatusInternalServerError, serr.StatusCode; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		tg := newOllama(t, func(w http.ResponseWriter, r *http.Request) {})
		ok, err := tg.CheckHealth(t.Context())
		if err != nil || !ok {
			t.Errorf("Expected healthy, got %v %v", ok, err)
		}
	})

	t.Run("error status", func(t *testing.T) {
		tg := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		ok, err := tg.CheckHealth(t.Context())
		if err != nil || ok {
			t.Errorf("Expected unhealthy without error, got %v %v", ok, err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		tg, err := Init(InitOptions{OllamaServer: addr})
		if err != nil {
			t.Fatal(err)
		}
		ok, err := tg.CheckHealth(t.Context())
		if err != nil || ok {
			t.Errorf("Expected unhealthy without error, got %v %v", ok, err)
		}
	})
}
