package castinghttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"

	"github.com/ggoodman/casting-api/auth"
	"github.com/ggoodman/casting-api/storage"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

var (
	errUnsupportedMediaType = errors.New("content-type must be application/json")
	errBadBody              = errors.New("invalid JSON body")
	errBadID                = errors.New("invalid id")
)

// writeJSON emits a success body. body must marshal to a JSON object; a
// "success": true member is added.
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	body["success"] = true
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the API's error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(auth.Envelope{Success: false, Error: status, Message: msg})
}

// writeStatus emits the error envelope with the status text as message.
func writeStatus(w http.ResponseWriter, status int) {
	writeError(w, status, http.StatusText(status))
}

// fail maps an error from decoding or storage to a response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *storage.ValidationError
	switch {
	case errors.Is(err, errUnsupportedMediaType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, errBadBody):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errBadID), errors.Is(err, storage.ErrNotFound):
		writeStatus(w, http.StatusNotFound)
	case errors.As(err, &ve):
		writeError(w, http.StatusUnprocessableEntity, ve.Field+" "+ve.Reason)
	default:
		h.log.ErrorContext(r.Context(), "store.op.fail", slog.String("err", err.Error()))
		writeStatus(w, http.StatusInternalServerError)
	}
}

// decodeJSON reads a single JSON object from the request body into v.
// Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		return errUnsupportedMediaType
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errBadBody)
	}
	return nil
}

// pathID parses the named URL parameter as a positive record id.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}
