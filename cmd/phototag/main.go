package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chriskillpack/phototag"
	"github.com/chriskillpack/phototag/internal/bridge"
	"github.com/chriskillpack/phototag/internal/config"
)

// cliOptions holds the command line flags.
type cliOptions struct {
	configPath   string
	ollamaServer string
	llamaServer  string
	llamaSeed    int
	model        string
	scanPath     string
	tagsPath     string
	check        bool
	tagFolder    string
	count        int
	concurrency  int
	rpm          int
	serveAddr    string
	shell        bool
	logLevel     string

	fs *flag.FlagSet
}

var (
	lameduck   atomic.Bool
	lameduckCh = make(chan struct{}) // closed on entering lame duck
)

// newCLIOptions registers the flags on fs.
func newCLIOptions(fs *flag.FlagSet) *cliOptions {
	o := &cliOptions{fs: fs}
	fs.StringVar(&o.configPath, "config", config.DefaultPath, "Path to YAML config file")
	fs.StringVar(&o.ollamaServer, "ollama", "", "Address of running ollama server, typically http://localhost:11434")
	fs.StringVar(&o.llamaServer, "llama", "", "Address of running llama server, typically http://localhost:8080. Selects the llama backend")
	fs.IntVar(&o.llamaSeed, "seed", 0, "Random seed to llama")
	fs.StringVar(&o.model, "model", "", "Ollama vision model")
	fs.StringVar(&o.scanPath, "scan", "", "List the images in a folder")
	fs.StringVar(&o.tagsPath, "tags", "", "Generate tags for an image")
	fs.BoolVar(&o.check, "check", false, "Check whether the inference server is reachable")
	fs.StringVar(&o.tagFolder, "tag-folder", "", "Generate tags for every image in a folder")
	fs.IntVar(&o.count, "count", -1, "Number of images to tag with -tag-folder")
	fs.IntVar(&o.concurrency, "concurrency", 0, "Number of images tagged in parallel with -tag-folder")
	fs.IntVar(&o.rpm, "rpm", -1, "Maximum tag requests per minute with -tag-folder, 0 for unlimited")
	fs.StringVar(&o.serveAddr, "serve", "", "Serve the command bridge over HTTP on this address, e.g. 127.0.0.1:7878")
	fs.BoolVar(&o.shell, "shell", false, "Start an interactive command shell")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return o
}

// loadConfig reads the config file and applies any flags that were set on the
// command line over it.
func (o *cliOptions) loadConfig() (*config.Config, error) {
	if o.isFlagSet("ollama") && o.isFlagSet("llama") {
		return nil, fmt.Errorf("-ollama and -llama are mutually exclusive")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ollama":
			cfg.Backend = config.BackendOllama
			cfg.OllamaServer = o.ollamaServer
		case "llama":
			cfg.Backend = config.BackendLlama
			cfg.LlamaServer = o.llamaServer
		case "seed":
			cfg.LlamaSeed = o.llamaSeed
		case "model":
			cfg.Model = o.model
		case "concurrency":
			cfg.Concurrency = o.concurrency
		case "rpm":
			cfg.RequestsPerMinute = o.rpm
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "serve":
			cfg.ListenAddr = o.serveAddr
		}
	})

	return cfg, cfg.Validate()
}

func (o *cliOptions) isFlagSet(name string) bool {
	set := false
	o.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func initOptions(cfg *config.Config) phototag.InitOptions {
	tio := phototag.InitOptions{
		Prompt:     cfg.Prompt,
		HttpClient: &http.Client{Timeout: cfg.Timeout()},
	}
	switch cfg.Backend {
	case config.BackendLlama:
		tio.LlamaServer = cfg.LlamaServer
		tio.LlamaSeed = cfg.LlamaSeed
	default:
		tio.OllamaServer = cfg.OllamaServer
		tio.OllamaModel = cfg.Model
	}
	return tio
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(cfg.Level()).
		With().Timestamp().
		Logger()
}

// countModes returns how many of the mutually exclusive modes were requested.
func (o *cliOptions) countModes() int {
	n := 0
	for _, set := range []bool{o.scanPath != "", o.tagsPath != "", o.check, o.tagFolder != "", o.serveAddr != "", o.shell} {
		if set {
			n++
		}
	}
	return n
}

// invokeAndPrint runs a single bridge command and prints its JSON result to w.
func invokeAndPrint(ctx context.Context, b *bridge.Bridge, w io.Writer, command string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	result, err := b.Invoke(ctx, command, raw)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func run(ctx context.Context, o *cliOptions, cfg *config.Config, logger zerolog.Logger) error {
	t, err := phototag.Init(initOptions(cfg))
	if err != nil {
		return err
	}
	logger.Debug().Str("backend", t.Name()).Str("model", t.Model()).Msg("initialized")

	reg := prometheus.NewRegistry()
	b := bridge.New(bridge.NewService(t), bridge.WithLogger(logger), bridge.WithRegisterer(reg))

	switch {
	case o.scanPath != "":
		return invokeAndPrint(ctx, b, os.Stdout, bridge.CmdScanFolder, map[string]string{"folderPath": o.scanPath})
	case o.tagsPath != "":
		return invokeAndPrint(ctx, b, os.Stdout, bridge.CmdGenerateTags, map[string]string{"imagePath": o.tagsPath})
	case o.check:
		return invokeAndPrint(ctx, b, os.Stdout, bridge.CmdCheckOllama, nil)
	case o.tagFolder != "":
		return runTagFolder(ctx, b, o.tagFolder, o.count, cfg, logger)
	case o.serveAddr != "":
		return runServer(ctx, NewServer(b, reg, cfg.ListenAddr, logger))
	case o.shell:
		return runShell(ctx, b)
	}

	return nil
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc, logger zerolog.Logger) {
	for {
		<-ch
		if lameduck.Load() {
			// Already in lame duck, hard stop
			logger.Info().Msg("exiting")
			cancel()
			return
		}
		logger.Info().Msg("SIGINT received, stopping...")
		lameduck.Store(true)
		close(lameduckCh)
	}
}

func main() {
	opts := newCLIOptions(flag.CommandLine)
	flag.Parse()

	if opts.countModes() != 1 {
		// Exactly one mode per invocation
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sighandler(sigch, cancel, logger)

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Fatal().Err(err).Send()
	}
}
