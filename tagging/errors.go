package tagging

import "fmt"

// NetworkError is returned when a request could not be delivered to the LLM
// server at all, e.g. the connection was refused.
type NetworkError struct {
	Server string // human readable server name, e.g. "Ollama"
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to call %s: %s. Is %s running?", e.Server, e.Err, e.Server)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is returned when the LLM server answered with a non-2xx status.
type ServerError struct {
	Server     string
	StatusCode int
	Status     string // e.g. "500 Internal Server Error"
}

func (e *ServerError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	return fmt.Sprintf("%s returned error: %s", e.Server, status)
}

// ParseError is returned when the LLM server response body does not have the
// expected shape.
type ParseError struct {
	Server string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s response: %s", e.Server, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
