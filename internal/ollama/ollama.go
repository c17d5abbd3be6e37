package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chriskillpack/phototag/tagging"
)

const (
	// DefaultServer is where a stock Ollama install listens.
	DefaultServer = "http://localhost:11434"
	// DefaultModel is a small vision model that runs on commodity hardware.
	DefaultModel = "moondream"

	serverName = "Ollama"
)

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	// Pointer so that a body without the field can be told apart from an
	// empty response.
	Response *string `json:"response"`
}

type ollama struct {
	srvAddr string
	model   string
	prompt  string

	client *http.Client
}

var _ tagging.Backend = &ollama{}

// Init returns an Ollama backed tagger. Empty model or prompt fall back to
// DefaultModel and tagging.Prompt.
func Init(model, prompt, srvAddr string, httpClient *http.Client) *ollama {
	if model == "" {
		model = DefaultModel
	}
	if prompt == "" {
		prompt = tagging.Prompt
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &ollama{
		srvAddr: srvAddr,
		model:   model,
		prompt:  prompt,
		client:  httpClient,
	}
}

func (o *ollama) Name() string { return "ollama" }

// Model returns the Ollama model name sent with every request.
func (o *ollama) Model() string { return o.model }

// IsHealthy queries the model listing endpoint. Transport errors and non-2xx
// statuses both count as unhealthy.
func (o *ollama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.srvAddr+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return tagging.IsSuccess(resp.StatusCode)
}

func (o *ollama) GenerateTags(ctx context.Context, image []byte) ([]string, error) {
	imb64 := base64.StdEncoding.EncodeToString(image)
	response, err := o.sendRequest(ctx, generateRequest{
		Model:  o.model,
		Prompt: o.prompt,
		Images: []string{imb64},
		Stream: false,
	})
	if err != nil {
		return nil, err
	}

	return tagging.ParseTags(response), nil
}

func (o *ollama) sendRequest(ctx context.Context, gr generateRequest) (string, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(gr.Images[0])+1024))
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&gr); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.srvAddr+"/api/generate", buf)
	if err != nil {
		return "", &tagging.NetworkError{Server: serverName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &tagging.NetworkError{Server: serverName, Err: err}
	}
	defer resp.Body.Close()

	if !tagging.IsSuccess(resp.StatusCode) {
		return "", &tagging.ServerError{Server: serverName, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var respbody generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respbody); err != nil {
		return "", &tagging.ParseError{Server: serverName, Err: err}
	}
	if respbody.Response == nil {
		return "", &tagging.ParseError{Server: serverName, Err: errors.New("missing field `response`")}
	}

	return *respbody.Response, nil
}
