package phototag

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/chriskillpack/phototag/internal/llama"
	"github.com/chriskillpack/phototag/internal/ollama"
	"github.com/chriskillpack/phototag/tagging"
)

type InitOptions struct {
	OllamaServer string
	OllamaModel  string // if empty uses ollama.DefaultModel

	LlamaServer string
	LlamaSeed   int

	Prompt string // if empty uses tagging.Prompt

	HttpClient *http.Client // if nil uses http.DefaultClient
}

type Tagger struct {
	tagging.Backend
}

func Init(tio InitOptions) (*Tagger, error) {
	t := &Tagger{}

	httpClient := tio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var n int
	if tio.LlamaServer != "" {
		n++
	}
	if tio.OllamaServer != "" {
		n++
	}
	switch n {
	case 0:
		return nil, fmt.Errorf("no backend selected")
	case 1:
		// no-op
	default:
		return nil, fmt.Errorf("multiple backends selected, only one allowed")
	}

	if tio.LlamaServer != "" {
		t.Backend = llama.Init(tio.LlamaServer, tio.LlamaSeed, tio.Prompt, httpClient)
	} else {
		t.Backend = ollama.Init(tio.OllamaModel, tio.Prompt, tio.OllamaServer, httpClient)
	}

	return t, nil
}

// GenerateTags reads the image at imagePath and asks the backend for tags.
func (t *Tagger) GenerateTags(ctx context.Context, imagePath string) ([]string, error) {
	imgdata, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, &IOError{Op: "read image", Err: err}
	}

	return t.Backend.GenerateTags(ctx, imgdata)
}

// CheckHealth reports whether the backend is reachable. It never returns an
// error, an unreachable or failing server is simply unhealthy.
func (t *Tagger) CheckHealth(ctx context.Context) (bool, error) {
	return t.Backend.IsHealthy(ctx), nil
}
