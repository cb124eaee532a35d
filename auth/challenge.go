package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const wwwAuthenticateHeader = "WWW-Authenticate"

// Challenge builds the RFC 6750 WWW-Authenticate value for the failure.
// Realm is omitted when empty. A missing header yields a bare challenge with
// no error code, as RFC 6750 section 3.1 asks.
func (e *Error) Challenge(realm string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 3)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if !e.absent {
		pieces = append(pieces,
			fmt.Sprintf(`error="%s"`, esc(e.challengeCode())),
			fmt.Sprintf(`error_description="%s"`, esc(e.Description)),
		)
	}
	if len(pieces) == 0 {
		return bearerScheme
	}
	return bearerScheme + " " + strings.Join(pieces, ", ")
}

// challengeCode maps kinds onto the RFC 6750 error codes.
func (e *Error) challengeCode() string {
	switch e.Kind {
	case KindInvalidHeader:
		return "invalid_request"
	case KindPermissionDenied:
		return "insufficient_scope"
	default:
		return "invalid_token"
	}
}

// Envelope is the JSON body used for every error response of the API.
type Envelope struct {
	Success bool   `json:"success"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// WriteError renders err as the API's JSON error envelope. 401 and 403
// responses also carry a Bearer challenge without a realm.
func WriteError(w http.ResponseWriter, r *http.Request, err *Error) {
	writeError(w, err, "")
}

// ErrorWriter returns an ErrorHandler like WriteError that advertises realm
// in its challenges.
func ErrorWriter(realm string) ErrorHandler {
	return func(w http.ResponseWriter, _ *http.Request, err *Error) {
		writeError(w, err, realm)
	}
}

func writeError(w http.ResponseWriter, err *Error, realm string) {
	if err.Status == http.StatusUnauthorized || err.Status == http.StatusForbidden {
		w.Header().Add(wwwAuthenticateHeader, err.Challenge(realm))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: err.Status, Message: err.Description})
}
