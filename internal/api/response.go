package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// Error codes carried in ErrorResponse.Error.Code. Codes produced by the
// chat service (NO_SYMBOL, MCP_ERROR, ...) pass through unchanged; these are
// the ones minted at the HTTP layer.
const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeQueryTooLong    = "QUERY_TOO_LONG"
	codeSessionNotFound = "SESSION_NOT_FOUND"
	codeSessionExpired  = "SESSION_EXPIRED"
	codeRateLimited     = "RATE_LIMITED"
	codeInternalError   = "INTERNAL_ERROR"
	codePromptNotFound  = "PROMPT_NOT_FOUND"
	codePromptNameTaken = "PROMPT_NAME_TAKEN"
	codePromptActive    = "PROMPT_ACTIVE"
)

// ErrorDetail identifies a failure for programmatic handling. Message holds
// the technical detail; the conversational text lives in
// ErrorResponse.Answer.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope every endpoint shares. Answer is
// user-facing text a chat client can render directly.
type ErrorResponse struct {
	Answer string      `json:"answer"`
	Error  ErrorDetail `json:"error"`
}

// writeJSON writes data with the given status code. Encoding happens into a
// buffer first so a marshal failure can still become a clean 500 instead of
// a half-written body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		slog.Debug("failed to write response body", "error", err)
	}
}

// writeError writes the shared error envelope.
func writeError(w http.ResponseWriter, status int, answer, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Answer: answer,
		Error:  ErrorDetail{Code: code, Message: message},
	})
}

// writeEvent writes a single SSE event with JSON-encoded data and flushes
// it. Wire form: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
