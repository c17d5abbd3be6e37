package llama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/phototag/tagging"
)

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.
USER:`
	imageSuffix = `
ASSISTANT:`

	// llama.cpp matches [img-N] in the prompt against image_data ids
	imageID = 10

	serverName = "llama server"
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI. Tag lists are
// short so n_predict is well below the UI default.
var defaultparams = jsonmap{
	"n_predict":         128,
	"n_probs":           0,
	"temperature":       0.2,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

type llama struct {
	srvAddr string
	seed    int
	prompt  string

	client *http.Client
}

var _ tagging.Backend = &llama{}

func Init(srvAddr string, seed int, prompt string, httpClient *http.Client) *llama {
	if prompt == "" {
		prompt = tagging.Prompt
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &llama{
		srvAddr: srvAddr,
		seed:    seed,
		prompt:  prompt,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// Model is always empty, llama server runs whichever model it was started with.
func (l *llama) Model() string { return "" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return tagging.IsSuccess(resp.StatusCode)
}

func (l *llama) GenerateTags(ctx context.Context, image []byte) ([]string, error) {
	imb64 := base64.StdEncoding.EncodeToString(image)
	content, err := l.sendRequest(ctx, imagePrompt(l.prompt), jsonmap{
		"image_data": []jsonmap{
			{
				"data": imb64, "id": imageID,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return tagging.ParseTags(content), nil
}

// Wraps prompt in the multimodal chat template, referencing the single image
func imagePrompt(prompt string) string {
	return imagePreamble + "[img-10]" + prompt + imageSuffix
}

func (l *llama) sendRequest(ctx context.Context, prompt string, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = false
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", &tagging.NetworkError{Server: serverName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", &tagging.NetworkError{Server: serverName, Err: err}
	}
	defer resp.Body.Close()

	if !tagging.IsSuccess(resp.StatusCode) {
		return "", &tagging.ServerError{Server: serverName, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	respbody := struct {
		Content *string `json:"content"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&respbody); err != nil {
		return "", &tagging.ParseError{Server: serverName, Err: err}
	}
	if respbody.Content == nil {
		return "", &tagging.ParseError{Server: serverName, Err: errors.New("missing field `content`")}
	}

	return strings.TrimLeft(*respbody.Content, " "), nil
}
