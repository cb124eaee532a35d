package castinghttp

import (
	"context"
	"net/http"

	"github.com/ggoodman/casting-api/storage"
)

func (h *Handler) handleListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := h.store.ListMovies(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movies": movies})
}

func (h *Handler) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.store.GetMovie(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie": m})
}

func (h *Handler) handlePostMovie(w http.ResponseWriter, r *http.Request) {
	var in storage.Movie
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.ID = 0
	m, err := h.store.CreateMovie(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "movie.create.ok")
	writeJSON(w, http.StatusCreated, map[string]any{"movie": m})
}

func (h *Handler) handlePatchMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var p storage.MoviePatch
	if err := decodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.store.UpdateMovie(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie": m})
}

func (h *Handler) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteMovie(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "movie.delete.ok")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleListCast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCast(w, r, id)
}

func (h *Handler) handlePutCast(w http.ResponseWriter, r *http.Request) {
	h.editCast(w, r, h.store.AddCast)
}

func (h *Handler) handleDeleteCast(w http.ResponseWriter, r *http.Request) {
	h.editCast(w, r, h.store.RemoveCast)
}

func (h *Handler) editCast(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, movieID, actorID int64) error) {
	movieID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actorID, err := pathID(r, "actorID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := op(r.Context(), movieID, actorID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCast(w, r, movieID)
}

func (h *Handler) writeCast(w http.ResponseWriter, r *http.Request, movieID int64) {
	actors, err := h.store.ListCast(r.Context(), movieID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie": movieID, "actors": actors})
}
