package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/finquery/finquery/internal/chat"
	"github.com/finquery/finquery/internal/session"
)

// maxChatBody bounds the request body. Queries are capped far lower; this
// just stops abusive payloads before JSON decoding.
const maxChatBody = 1 << 20

// formattedTimeLayout produces the human-readable timestamp the web client
// shows under each answer, zero-padded day and hour included.
const formattedTimeLayout = "January 02, 2006 at 03:04 PM UTC"

// Conversational answers for request-level failures. The deployed client
// renders these verbatim.
const (
	answerSessionNotFound = "Session not found. Please create a new session."
	answerSessionExpired  = "Your session has expired. Please create a new session to continue."
	answerRateLimited     = "You've made too many requests. Please wait %d seconds before trying again."
	answerEmptyQuery      = "Please enter a question about market data."
	answerQueryTooLong    = "Your question is too long. Please shorten it and try again."
	answerInternal        = "An unexpected error occurred. Please try again."
)

// ChatResponse is a successful answer. Data carries the intent-specific
// payload; the optional fields report how the answer was produced.
type ChatResponse struct {
	Answer        string   `json:"answer"`
	Type          string   `json:"type"`
	Data          any      `json:"data,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
	Stale         bool     `json:"stale,omitempty"`
	ModelUsed     string   `json:"model_used,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`
	UsedFallback  bool     `json:"used_fallback,omitempty"`
	Timestamp     string   `json:"timestamp"`
	FormattedTime string   `json:"formatted_time"`
}

// RateLimitResponse is the 429 body. It extends the error envelope with the
// window arithmetic clients need to schedule a retry.
type RateLimitResponse struct {
	Answer            string      `json:"answer"`
	Error             ErrorDetail `json:"error"`
	RetryAfterSeconds int         `json:"retry_after_seconds"`
	RequestsMade      int         `json:"requests_made"`
	RequestsLimit     int         `json:"requests_limit"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// streamStatus is the payload of the processing and done SSE events.
type streamStatus struct {
	Status string `json:"status"`
}

type chatHandler struct {
	chat   *chat.Service
	logger *slog.Logger
}

func (h *chatHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.send)
	mux.HandleFunc("POST /api/chat/stream", h.stream)
}

// send answers one query synchronously.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.chat.Handle(r.Context(), req.SessionID, req.Query)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	if res.Failure != nil {
		writeError(w, failureStatus(res.Failure.Code),
			res.Answer, res.Failure.Code, res.Failure.Message)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(res, time.Now().UTC()))
}

// stream answers one query over SSE: processing, then a chunk per piece of
// answer text, then complete with the full result, then done. Failures that
// occur before routing arrive as a single error event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			answerInternal, codeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	err := h.chat.HandleStream(ctx, req.SessionID, req.Query, func(ev chat.Event) error {
		switch ev.Type {
		case chat.EventProcessing:
			return writeEvent(w, flusher, chat.EventProcessing, streamStatus{Status: "processing"})
		case chat.EventChunk:
			return writeEvent(w, flusher, chat.EventChunk, ev.Chunk)
		case chat.EventComplete:
			return writeEvent(w, flusher, chat.EventComplete, completePayload(ev.Result))
		default:
			return nil
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Debug("stream client disconnected", "error", err)
			return
		}
		_, body, _ := chatErrorBody(err)
		_ = writeEvent(w, flusher, chat.EventError, body)
		return
	}

	_ = writeEvent(w, flusher, chat.EventDone, streamStatus{Status: "done"})
}

// decodeRequest parses and validates the chat request body. On failure the
// error is already written and ok is false.
func (h *chatHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			"I couldn't read that request. Please send a JSON body with session_id and query.",
			codeInvalidRequest, err.Error())
		return chatRequest{}, false
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest,
			"A session ID is required. Please create a session first.",
			codeInvalidRequest, "session_id is required")
		return chatRequest{}, false
	}
	return req, true
}

// writeChatError maps a service error onto the wire, including the
// Retry-After header for rate limits.
func (h *chatHandler) writeChatError(w http.ResponseWriter, err error) {
	status, body, retryAfter := chatErrorBody(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("chat request failed", "error", err)
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, body)
}

// chatErrorBody maps a service error onto its HTTP status and response
// body. retryAfter is nonzero only for rate limit errors.
func chatErrorBody(err error) (status int, body any, retryAfter int) {
	var rle *chat.RateLimitError
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusNotFound, errorBody(answerSessionExpired, codeSessionExpired, err), 0
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, errorBody(answerSessionNotFound, codeSessionNotFound, err), 0
	case errors.As(err, &rle):
		seconds := int((rle.RetryAfter + time.Second - 1) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return http.StatusTooManyRequests, RateLimitResponse{
			Answer:            fmt.Sprintf(answerRateLimited, seconds),
			Error:             ErrorDetail{Code: codeRateLimited, Message: rle.Error()},
			RetryAfterSeconds: seconds,
			RequestsMade:      rle.Count,
			RequestsLimit:     rle.Limit,
		}, seconds
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest, errorBody(answerEmptyQuery, codeInvalidRequest, err), 0
	case errors.Is(err, chat.ErrQueryTooLong):
		return http.StatusBadRequest, errorBody(answerQueryTooLong, codeQueryTooLong, err), 0
	default:
		return http.StatusInternalServerError, errorBody(answerInternal, codeInternalError, err), 0
	}
}

func errorBody(answer, code string, err error) ErrorResponse {
	return ErrorResponse{Answer: answer, Error: ErrorDetail{Code: code, Message: err.Error()}}
}

// failureStatus maps conversational failure codes onto HTTP statuses.
// Degradation codes stay 200: the request succeeded and the answer reports
// the problem.
func failureStatus(code string) int {
	switch code {
	case chat.CodeNoSymbol, chat.CodeNoIndicator, chat.CodeMissingCurrencies, chat.CodeSearchDisabled:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// completePayload is the data of the complete SSE event: the same body the
// synchronous endpoint would return.
func completePayload(res *chat.Result) any {
	if res.Failure != nil {
		return ErrorResponse{
			Answer: res.Answer,
			Error:  ErrorDetail{Code: res.Failure.Code, Message: res.Failure.Message},
		}
	}
	return newChatResponse(res, time.Now().UTC())
}

func newChatResponse(res *chat.Result, now time.Time) ChatResponse {
	return ChatResponse{
		Answer:        res.Answer,
		Type:          res.Type,
		Data:          res.Data,
		Cached:        res.Cached,
		Stale:         res.Stale,
		ModelUsed:     res.ModelUsed,
		ToolsUsed:     res.ToolsUsed,
		UsedFallback:  res.UsedFallback,
		Timestamp:     now.Format(time.RFC3339),
		FormattedTime: now.Format(formattedTimeLayout),
	}
}
