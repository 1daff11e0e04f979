// Command maestro runs the agentic chat orchestrator.
//
// Usage:
//
//	maestro serve --config config.yaml
//	maestro index --docs-root ./docs --docset docs
//	maestro version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/jykim-lab/maestro"
	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/databases"
	"github.com/jykim-lab/maestro/pkg/embedders"
	"github.com/jykim-lab/maestro/pkg/llms"
	"github.com/jykim-lab/maestro/pkg/logger"
	"github.com/jykim-lab/maestro/pkg/rag"
	"github.com/jykim-lab/maestro/pkg/runtime"
	"github.com/jykim-lab/maestro/pkg/server"
	"github.com/jykim-lab/maestro/pkg/session"
	"github.com/jykim-lab/maestro/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the orchestrator HTTP server."`
	Index   IndexCmd   `cmd:"" help:"Chunk and index a documents folder into Qdrant."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := maestro.GetVersion()
	if build, ok := debug.ReadBuildInfo(); ok {
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			info.Version = build.Main.Version
		}
	}
	fmt.Println(info.String())
	return nil
}

// retrieval bundles the components behind the rag endpoints. Any of them may
// be nil when the deployment runs without embeddings or without Qdrant.
type retrieval struct {
	embedder embedders.Embedder
	engine   *rag.Engine
	indexer  *rag.Indexer
	query    *rag.QueryService
}

// buildRetrieval wires the embedder, the vector store and the hybrid engine.
// A missing embedding provider or an unusable Qdrant config degrades the
// stack instead of failing startup; the HTTP surface reports the gap.
func buildRetrieval(cfg *config.Config) (*retrieval, error) {
	r := &retrieval{}

	embedder, err := embedders.NewEmbedderFromConfig(&cfg.Embeddings)
	switch {
	case errors.Is(err, embedders.ErrNoProvider):
		slog.Warn("No embedding provider configured, dense retrieval disabled")
	case err != nil:
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	default:
		r.embedder = embedder
	}

	dimension := cfg.Embeddings.Dimension
	if r.embedder != nil {
		dimension = r.embedder.Dimension()
	}

	store, err := databases.NewQdrantStoreFromConfig(&cfg.Qdrant, dimension)
	if err != nil {
		slog.Warn("Qdrant unavailable, retrieval disabled", "error", err)
		return r, nil
	}

	r.engine = rag.NewEngine(store, r.embedder, cfg.RAG)
	r.indexer = rag.NewIndexer(r.engine)
	r.query = rag.NewQueryService(r.engine, r.indexer)
	return r, nil
}

// ServeCmd starts the orchestrator HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ret, err := buildRetrieval(cfg)
	if err != nil {
		return err
	}

	if cfg.RAG.WatchDocs && ret.indexer != nil && cfg.RAG.DocsRoot != "" {
		watcher, err := rag.NewDocsWatcher(ret.indexer, cfg.RAG.DocsRoot, cfg.RAG.Docset)
		if err != nil {
			slog.Warn("Failed to create docs watcher", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			slog.Warn("Failed to start docs watcher", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
			slog.Info("Watching documents folder", "docs_root", cfg.RAG.DocsRoot)
		}
	}

	sessions := session.NewStore(cfg.Session.WindowSize, cfg.Session.SessionTimeout(), cfg.Session.CleanupPeriod())
	sessions.StartReclaimer(ctx)

	provider, err := llms.NewProviderFromConfig(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}

	var ragQuerier tools.RAGQuerier
	if ret.query != nil {
		ragQuerier = ret.query
	}
	executor := tools.NewExecutor(cfg.Tools, sessions, ragQuerier)
	rt := runtime.NewRuntime(cfg, provider, sessions, executor)

	srv := server.New(cfg, server.Deps{
		Runtime:  rt,
		Provider: provider,
		Embedder: ret.embedder,
		Engine:   ret.engine,
		Query:    ret.query,
		Indexer:  ret.indexer,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
	}()

	slog.Info("Orchestrator starting",
		"llm", provider.Name(),
		"address", cfg.Server.Address())
	return srv.Start()
}

// IndexCmd runs a one-shot indexing pass and exits.
type IndexCmd struct {
	DocsRoot      string `name:"docs-root" help:"Folder containing .md/.txt documents (defaults to rag.docs_root)." type:"path"`
	Docset        string `help:"Docset label stamped on every chunk." default:"docs"`
	MaxFiles      int    `name:"max-files" help:"Cap on the number of files to index."`
	Recreate      bool   `help:"Drop and recreate the collection first."`
	ReplaceDocset bool   `name:"replace-docset" help:"Delete the docset's existing points before upserting."`
	Preview       bool   `help:"Chunk only, print a preview, write nothing."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ret, err := buildRetrieval(cfg)
	if err != nil {
		return err
	}
	if ret.indexer == nil {
		return fmt.Errorf("indexing requires a reachable Qdrant instance")
	}

	docsRoot := c.DocsRoot
	if docsRoot == "" {
		docsRoot = cfg.RAG.DocsRoot
	}
	if docsRoot == "" {
		return fmt.Errorf("docs root is required (--docs-root or rag.docs_root)")
	}

	result, err := ret.indexer.Index(ctx, rag.IndexOptions{
		DocsRoot:      docsRoot,
		Docset:        c.Docset,
		MaxFiles:      c.MaxFiles,
		Recreate:      c.Recreate,
		ReplaceDocset: c.ReplaceDocset,
		Preview:       c.Preview,
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if c.Preview {
		fmt.Printf("Preview: %d files, %d chunks\n", result.IndexedFiles, result.IndexedChunks)
		for _, src := range result.Preview {
			fmt.Printf("  %s (%d chunks)\n", src.Source, src.ChunkCount)
		}
		return nil
	}
	fmt.Printf("Indexed %d files (%d chunks) into %s\n",
		result.IndexedFiles, result.IndexedChunks, result.Collection)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("maestro"),
		kong.Description("maestro - Agentic RAG chat orchestrator"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
