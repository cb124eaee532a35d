package castinghttp

import (
	"net/http"

	"github.com/ggoodman/casting-api/storage"
)

func (h *Handler) handleListActors(w http.ResponseWriter, r *http.Request) {
	actors, err := h.store.ListActors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
}

func (h *Handler) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.store.GetActor(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": a})
}

func (h *Handler) handlePostActor(w http.ResponseWriter, r *http.Request) {
	var in storage.Actor
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.ID = 0
	a, err := h.store.CreateActor(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "actor.create.ok")
	writeJSON(w, http.StatusCreated, map[string]any{"actor": a})
}

func (h *Handler) handlePatchActor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var p storage.ActorPatch
	if err := decodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.store.UpdateActor(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": a})
}

func (h *Handler) handleDeleteActor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteActor(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "actor.delete.ok")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
