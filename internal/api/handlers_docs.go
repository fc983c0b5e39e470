package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 200
	maxListLimit     = 10000
)

var docIDRe = regexp.MustCompile(`^[0-9a-f]{8,64}$`)

// handleListDocuments lists published documents by their meta nodes.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		jsonError(w, "document store not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	children, err := s.docs.ListChildren(r.Context(), pipeline.DocumentsPrefix, limit)
	if err != nil {
		s.log.Error("listing documents failed", "error", err)
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusBadGateway)
		return
	}

	docs := make([]map[string]any, 0, len(children))
	for _, child := range children {
		rest, ok := strings.CutPrefix(child.Key, pipeline.DocumentsPrefix+"/")
		if !ok {
			continue
		}
		docID, leaf, ok := strings.Cut(rest, "/")
		if !ok || leaf != "meta" {
			continue
		}
		docs = append(docs, map[string]any{
			"doc_id": docID,
			"key":    child.Key,
			"meta":   child.Value,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument deletes a document's meta node and all its prompts.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		jsonError(w, "document store not configured", http.StatusServiceUnavailable)
		return
	}
	docID := chi.URLParam(r, "docID")
	if !docIDRe.MatchString(docID) {
		jsonError(w, "invalid document id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	docKey := pipeline.DocumentKey(docID)
	meta, err := s.docs.GetNode(ctx, docKey+"/meta")
	if err != nil {
		jsonError(w, "failed to read document: "+err.Error(), http.StatusBadGateway)
		return
	}
	if meta == nil {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	if err := s.docs.DeleteNode(ctx, docKey, true); err != nil {
		s.log.Error("deleting document failed", "doc_id", docID, "error", err)
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.log.Info("document deleted", "doc_id", docID)

	resp := map[string]any{"doc_id": docID, "deleted": true}
	if m, ok := meta.Value.(map[string]any); ok {
		resp["prompts"] = m["prompts"]
	}
	writeJSON(w, http.StatusOK, resp)
}
