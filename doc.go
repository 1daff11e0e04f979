// Package maestro is an agentic chat orchestrator with hybrid retrieval.
//
// The orchestrator takes a natural-language chat turn, classifies the
// intent, plans tool calls with an LLM, executes them in dependency order
// against downstream services, and answers from the observations. When no
// LLM is configured it falls back to a rule-based pipeline with the same
// tool surface.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/jykim-lab/maestro/cmd/maestro@latest
//
// Start the server against a local Qdrant:
//
//	maestro serve --config config.yaml
//
// Index a documents folder:
//
//	maestro index --docs-root ./docs --docset docs
//
// # Packages
//
//	pkg/runtime    chat orchestration (agentic and rule-based)
//	pkg/agent      intent classification and LLM task planning
//	pkg/tools      tool registry and dependency-ordered execution
//	pkg/rag        markdown chunking and hybrid BM25 + dense retrieval
//	pkg/session    in-memory conversation store with tool result cache
//	pkg/server     chi HTTP surface: chat, SSE streaming, rag, health
//
// The HTTP API is documented in the package server; the configuration
// format in package config.
package maestro
