package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/xhad/docqa/internal/tui"
	"github.com/xhad/docqa/internal/types"
	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/server"
)

type Options struct {
	ConfigPath  string
	TUI         bool
	Serve       bool
	Watch       bool
	ShowContext *bool // nil keeps the configured value
	Provider    string
	Model       string
	Verbose     bool
	Source      string
}

func main() {
	_ = godotenv.Load()

	opts := parseFlags()

	if err := run(opts); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() Options {
	var opts Options
	var showContext bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.BoolVar(&opts.TUI, "tui", false, "Use the full screen terminal UI")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP and WebSocket server")
	flag.BoolVar(&opts.Watch, "watch", false, "Re-process the document when the file changes")
	flag.BoolVar(&showContext, "context", false, "Show the retrieved passages with every answer")
	flag.StringVar(&opts.Provider, "provider", "", "LLM provider (groq, openai, ollama, gemini)")
	flag.StringVar(&opts.Model, "model", "", "LLM model to use")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Print diagnostic logs")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [document-or-url]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "context" {
			opts.ShowContext = &showContext
		}
	})
	opts.Source = flag.Arg(0)

	return opts
}

func run(opts Options) error {
	config, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.OverrideLLM(opts.Provider, opts.Model)
	if opts.ShowContext != nil {
		config.UI.ShowContext = *opts.ShowContext
	}

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return fmt.Errorf("%w: %d problems in config", types.ErrInvalidConfig, len(errs))
	}

	if !opts.Verbose && !opts.Serve {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(config)
	if err != nil {
		if app == nil || !opts.Serve || !errors.Is(err, types.ErrMissingCredential) {
			return serviceUnavailable(err)
		}
		log.Printf("WARNING: %v; document and query endpoints will answer 503", err)
	}

	if opts.Serve {
		if !opts.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.NewWithConfig(server.Config{
			Addr:        config.Server.Addr,
			MaxSessions: config.Server.MaxSessions,
			SessionTTL:  time.Duration(config.Server.SessionTTLMins) * time.Minute,
		}, app.pipeline, app.loader)
		return srv.Run(ctx)
	}

	if opts.Watch && (opts.Source == "" || loader.IsURL(opts.Source)) {
		return fmt.Errorf("-watch needs a local document path")
	}

	if opts.Source != "" {
		if err := app.loadWithProgress(ctx, opts.Source); err != nil {
			return err
		}
	}

	if opts.TUI {
		return runTUI(ctx, app, opts)
	}

	if opts.Watch {
		err := app.watch(ctx, opts.Source, func(name string, chunks int, err error) {
			if err != nil {
				color.Red("\nReload failed: %v", err)
				return
			}
			color.Yellow("\n↻ Reloaded %s (%d chunks). History cleared.", name, chunks)
		})
		if err != nil {
			return err
		}
	}

	return app.repl(ctx, os.Stdin)
}

func runTUI(ctx context.Context, app *App, opts Options) error {
	tui.SetTheme(app.config.UI.Theme)

	name := ""
	if doc := app.session.Document(); doc != nil {
		name = doc.Name
	}

	p := tea.NewProgram(tui.New(app, name, app.config.UI.ShowContext), tea.WithAltScreen(), tea.WithContext(ctx))

	if opts.Watch {
		err := app.watch(ctx, opts.Source, func(name string, chunks int, err error) {
			p.Send(tui.LoadedMsg(name, chunks, err))
		})
		if err != nil {
			return err
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func serviceUnavailable(err error) error {
	color.Red("Service unavailable: %v", err)
	if errors.Is(err, types.ErrMissingCredential) {
		color.Red("Set the API key environment variable named by llm.api_key_env (or add it to .env).")
	}
	return err
}

// newApp builds the process-wide components from config. When the answer
// generator cannot be built for lack of a credential, the app is still
// returned, without a generator, alongside the error.
func newApp(config *cfgPkg.Config) (*App, error) {
	splitter, err := processor.NewWithConfig(processor.ProcessorConfig{
		Strategy:     config.Processor.Strategy,
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
		Separators:   config.Processor.Separators,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  config.Embedder.Provider,
		Model:     config.Embedder.Model,
		BaseURL:   config.Embedder.BaseURL,
		APIKey:    config.EmbedderAPIKey(),
		Dimension: config.Embedder.Dimension,
		BatchSize: config.Embedder.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	var generator types.Generator
	chatEngine, genErr := llm.NewWithConfig(llm.ChatConfig{
		Provider:       config.LLM.Provider,
		Model:          config.LLM.Model,
		BaseURL:        config.LLM.BaseURL,
		APIKey:         config.LLMAPIKey(),
		Temperature:    config.LLM.Temperature,
		TopP:           config.LLM.TopP,
		MaxTokens:      config.LLM.MaxTokens,
		Timeout:        time.Duration(config.LLM.TimeoutSecs) * time.Second,
		RateLimit:      config.LLM.RateLimit,
		SystemTemplate: config.LLM.SystemPrompt,
	})
	switch {
	case genErr == nil:
		generator = chatEngine
	case errors.Is(genErr, types.ErrMissingCredential):
		genErr = fmt.Errorf("%w: %s is not set", genErr, config.LLM.APIKeyEnv)
	default:
		return nil, genErr
	}

	pipeline, err := rag.New(rag.Config{
		DefaultK:        config.Retrieval.DefaultK,
		SummaryK:        config.Retrieval.SummaryK,
		SummaryKeywords: config.Retrieval.SummaryKeywords,
		BatchSize:       config.Retrieval.BatchSize,
	}, splitter, embedder, generator)
	if err != nil {
		return nil, err
	}

	docLoader := loader.NewWithConfig(loader.LoaderConfig{
		MaxBytes: config.Loader.MaxBytes,
		Timeout:  time.Duration(config.Loader.TimeoutSecs) * time.Second,
	})

	return &App{
		config:      config,
		pipeline:    pipeline,
		loader:      docLoader,
		session:     rag.NewSession(),
		showContext: config.UI.ShowContext,
	}, genErr
}
