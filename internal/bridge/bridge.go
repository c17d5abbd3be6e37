// Package bridge exposes the tagging operations as named commands, the way a
// UI shell invokes them. Arguments and results are JSON, errors are flattened
// to plain strings.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/chriskillpack/phototag"
)

const (
	CmdScanFolder   = "scan_folder"
	CmdGenerateTags = "generate_tags"
	CmdCheckOllama  = "check_ollama"
)

// Service is the set of operations the bridge dispatches to. *phototag.Tagger
// together with phototag.ScanFolder satisfies it, see NewService.
type Service interface {
	ScanFolder(folderPath string) ([]phototag.ImageRecord, error)
	GenerateTags(ctx context.Context, imagePath string) ([]string, error)
	CheckHealth(ctx context.Context) (bool, error)
}

type service struct {
	*phototag.Tagger
}

func (service) ScanFolder(folderPath string) ([]phototag.ImageRecord, error) {
	return phototag.ScanFolder(folderPath)
}

// NewService adapts a Tagger to Service.
func NewService(t *phototag.Tagger) Service {
	return service{t}
}

// CommandError is the only error type returned by Invoke. Its message is all
// the caller gets.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string { return e.Message }

func commandErrorf(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...)}
}

type metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

type Bridge struct {
	svc     Service
	logger  zerolog.Logger
	metrics *metrics
}

type Option func(*Bridge)

// WithLogger sets the logger, the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithRegisterer registers the bridge metrics with reg. Without it metrics are
// still collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bridge) { b.metrics = newMetrics(reg) }
}

func New(svc Service, opts ...Option) *Bridge {
	b := &Bridge{
		svc:    svc,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = newMetrics(nil)
	}
	return b
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phototag_commands_total",
			Help: "Number of bridge command invocations by outcome",
		}, []string{"command", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phototag_command_duration_seconds",
			Help:    "Time taken to run a bridge command",
			Buckets: []float64{.005, .05, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"command"}),
	}
}

// Commands returns the names accepted by Invoke.
func Commands() []string {
	return []string{CmdScanFolder, CmdGenerateTags, CmdCheckOllama}
}

// Invoke runs the named command. args is a JSON object and may be empty for
// commands that take no arguments. A non-nil error is always a *CommandError.
func (b *Bridge) Invoke(ctx context.Context, command string, args json.RawMessage) (any, error) {
	if !slices.Contains(Commands(), command) {
		b.metrics.commands.WithLabelValues("unknown", "error").Inc()
		return nil, commandErrorf("unknown command %q", command)
	}

	logger := b.logger.With().
		Str("request_id", uuid.NewString()).
		Str("command", command).
		Logger()
	logger.Debug().RawJSON("args", argsForLog(args)).Msg("invoke")

	start := time.Now()
	result, err := b.dispatch(ctx, command, args)
	elapsed := time.Since(start)
	b.metrics.duration.WithLabelValues(command).Observe(elapsed.Seconds())

	if err != nil {
		b.metrics.commands.WithLabelValues(command, "error").Inc()
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("command failed")
		return nil, &CommandError{Message: err.Error()}
	}
	b.metrics.commands.WithLabelValues(command, "ok").Inc()
	logger.Info().Dur("elapsed", elapsed).Msg("command done")
	return result, nil
}

func (b *Bridge) dispatch(ctx context.Context, command string, args json.RawMessage) (any, error) {
	switch command {
	case CmdScanFolder:
		var a struct {
			FolderPath  string `json:"folderPath"`
			FolderPath2 string `json:"folder_path"`
		}
		if err := decodeArgs(command, args, &a); err != nil {
			return nil, err
		}
		path, err := required("folderPath", a.FolderPath, a.FolderPath2)
		if err != nil {
			return nil, err
		}
		return b.svc.ScanFolder(path)

	case CmdGenerateTags:
		var a struct {
			ImagePath  string `json:"imagePath"`
			ImagePath2 string `json:"image_path"`
		}
		if err := decodeArgs(command, args, &a); err != nil {
			return nil, err
		}
		path, err := required("imagePath", a.ImagePath, a.ImagePath2)
		if err != nil {
			return nil, err
		}
		return b.svc.GenerateTags(ctx, path)

	case CmdCheckOllama:
		return b.svc.CheckHealth(ctx)
	}

	// Unreachable, Invoke filters unknown commands
	return nil, fmt.Errorf("unknown command %q", command)
}

func decodeArgs(command string, args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", command, err)
	}
	return nil
}

// required returns the first non-empty of the camelCase and snake_case
// spellings of an argument.
func required(name string, values ...string) (string, error) {
	for _, v := range values {
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("missing required argument %s", name)
}

func argsForLog(args json.RawMessage) []byte {
	if len(bytes.TrimSpace(args)) == 0 || !json.Valid(args) {
		return []byte("null")
	}
	return args
}
