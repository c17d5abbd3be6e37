package tagging

import (
	"context"
	"strings"
)

// Prompt asks the vision model for a bare comma separated tag list.
const Prompt = "List 5-10 descriptive tags for this image. Output only the tags separated by commas, nothing else. Example: nature, sunset, mountain, peaceful, orange sky"

// Tags at or beyond this length in bytes are treated as model chatter, not tags.
const maxTagLen = 50

// Backend generates tags for an image using a specific LLM server.
type Backend interface {
	// Name returns the name of the backing LLM server, e.g. "ollama" or "llama"
	Name() string

	// Model returns the vision model used for tagging, or "" when the server
	// decides which model to run
	Model() string

	// GenerateTags returns the descriptive tags for the provided image. The
	// image data should be the full contents of an image file including the
	// header. The provided ctx is used as a parent context for the request to
	// the LLM server.
	GenerateTags(ctx context.Context, image []byte) ([]string, error)

	// IsHealthy returns whether the LLM server is healthy. Any failure to
	// reach the server is reported as unhealthy.
	IsHealthy(ctx context.Context) bool
}

// ParseTags splits a model response into tags. Each comma separated piece is
// trimmed and lower-cased, empty and overly long pieces are dropped. The
// returned slice is never nil.
func ParseTags(response string) []string {
	tags := []string{}
	for p := range strings.SplitSeq(response, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || len(p) >= maxTagLen {
			continue
		}
		tags = append(tags, p)
	}

	return tags
}

// IsSuccess reports whether code is a 2xx HTTP status.
func IsSuccess(code int) bool {
	return code >= 200 && code <= 299
}
