package castinghttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/ggoodman/casting-api/storage"
)

// buildSchemas reflects the request bodies accepted by the API.
func buildSchemas() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	return map[string]*jsonschema.Schema{
		"actor":       r.Reflect(new(storage.Actor)),
		"actor-patch": r.Reflect(new(storage.ActorPatch)),
		"movie":       r.Reflect(new(storage.Movie)),
		"movie-patch": r.Reflect(new(storage.MoviePatch)),
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleGetSchema serves the JSON Schema of a request body by name.
func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemas[chi.URLParam(r, "name")]
	if !ok {
		writeStatus(w, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_ = json.NewEncoder(w).Encode(s)
}

// handleGetProtectedResourceMetadata serves the OAuth2 Protected Resource
// Metadata document.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if h.prm == nil {
		writeStatus(w, http.StatusNotFound)
		return
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(h.prm)
}
