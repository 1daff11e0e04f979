package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jykim-lab/maestro/pkg/databases"
	"github.com/jykim-lab/maestro/pkg/embedders"
	"github.com/jykim-lab/maestro/pkg/rag"
)

const embeddingHint = "Set OPENAI_API_KEY (or the Azure OpenAI variables) to enable embeddings."

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": message})
}

func degraded(w http.ResponseWriter, errMsg, hint string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"detail": map[string]interface{}{
			"status": "degraded",
			"error":  errMsg,
			"hint":   hint,
		},
	})
}

// writeError maps component errors onto the HTTP taxonomy: dependency
// outages become 503 with a hint, anything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var storageErr *databases.StorageError
	if errors.As(err, &storageErr) {
		degraded(w, storageErr.Error(), storageErr.Hint)
		return
	}
	if errors.Is(err, embedders.ErrNoProvider) {
		degraded(w, embedders.ErrNoProvider.Error(), embeddingHint)
		return
	}
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "message is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Runtime.Handle(r.Context(), req.Message, req.ConversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if intent, ok := result.Meta["intent"].(string); ok {
		chatTurnsTotal.WithLabelValues(intent).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for event := range s.deps.Runtime.Stream(r.Context(), req.Message, req.ConversationID) {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}

type ragQueryRequest struct {
	Query        string                 `json:"query"`
	TopK         int                    `json:"top_k"`
	AutoIndex    *bool                  `json:"auto_index"`
	SnippetChars int                    `json:"snippet_chars"`
	Filters      map[string]interface{} `json:"filters"`
}

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Query == nil {
		degraded(w, "retrieval engine not configured", embeddingHint)
		return
	}

	var req ragQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	// Auto-indexing is opt-out.
	autoIndex := req.AutoIndex == nil || *req.AutoIndex

	resp, err := s.deps.Query.QueryWithOptions(r.Context(), req.Query, rag.QueryOptions{
		TopK:         req.TopK,
		Filters:      req.Filters,
		AutoIndex:    autoIndex,
		SnippetChars: req.SnippetChars,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type ragIndexRequest struct {
	DocsRoot             string `json:"docs_root"`
	MaxFiles             int    `json:"max_files"`
	Recreate             bool   `json:"recreate"`
	ReplaceDocset        bool   `json:"replace_docset"`
	Preview              bool   `json:"preview"`
	PreviewFiles         int    `json:"preview_files"`
	PreviewChunksPerFile int    `json:"preview_chunks_per_file"`
	PreviewChars         int    `json:"preview_chars"`
}

func (s *Server) handleRAGIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		degraded(w, "retrieval engine not configured", embeddingHint)
		return
	}

	var req ragIndexRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}
	}
	if req.DocsRoot == "" {
		req.DocsRoot = s.cfg.RAG.DocsRoot
	}
	if req.DocsRoot == "" {
		badRequest(w, "docs_root is required")
		return
	}

	result, err := s.deps.Indexer.Index(r.Context(), rag.IndexOptions{
		DocsRoot:             req.DocsRoot,
		Docset:               chi.URLParam(r, "docset"),
		MaxFiles:             req.MaxFiles,
		Recreate:             req.Recreate,
		ReplaceDocset:        req.ReplaceDocset,
		Preview:              req.Preview,
		PreviewFiles:         req.PreviewFiles,
		PreviewChunksPerFile: req.PreviewChunksPerFile,
		PreviewChars:         req.PreviewChars,
	})
	if err != nil {
		if strings.Contains(err.Error(), "docs_root not found") {
			badRequest(w, err.Error())
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	var hints []string

	if s.deps.Provider != nil {
		resp["llm"] = s.deps.Provider.Name()
	} else {
		resp["llm"] = "disabled"
	}

	if s.deps.Embedder != nil {
		resp["embeddings"] = s.deps.Embedder.Name()
	} else {
		resp["embeddings"] = "disabled"
		resp["status"] = "degraded"
		hints = append(hints, embeddingHint)
	}

	if s.deps.Engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		qdrant := map[string]interface{}{
			"status":     "ok",
			"collection": s.deps.Engine.Store().Collection(),
		}
		if err := s.deps.Engine.Store().Healthy(ctx); err != nil {
			qdrant["status"] = "unreachable"
			qdrant["error"] = err.Error()
			resp["status"] = "degraded"
			hints = append(hints, "Start Qdrant and check qdrant.host/qdrant.port.")
		}
		resp["qdrant"] = qdrant
	}

	if len(hints) > 0 {
		resp["hints"] = hints
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
