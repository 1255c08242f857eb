package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/finquery/finquery/internal/prompt"
)

// PromptResponse describes one stored system prompt.
type PromptResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// PromptListResponse lists all prompts.
type PromptListResponse struct {
	Prompts []PromptResponse `json:"prompts"`
	Count   int              `json:"count"`
}

// PromptDeleteResponse confirms a deletion.
type PromptDeleteResponse struct {
	Message  string `json:"message"`
	PromptID string `json:"prompt_id"`
}

type createPromptRequest struct {
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

// updatePromptRequest carries a partial update; nil fields stay unchanged.
type updatePromptRequest struct {
	Name        *string `json:"name"`
	Prompt      *string `json:"prompt"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type promptHandler struct {
	store  prompt.Store
	logger *slog.Logger
}

func (h *promptHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prompts", h.list)
	mux.HandleFunc("GET /api/prompts/active", h.active)
	mux.HandleFunc("GET /api/prompts/{id}", h.get)
	mux.HandleFunc("POST /api/prompts", h.create)
	mux.HandleFunc("PUT /api/prompts/{id}", h.update)
	mux.HandleFunc("DELETE /api/prompts/{id}", h.delete)
	mux.HandleFunc("POST /api/prompts/{id}/activate", h.activate)
}

func (h *promptHandler) list(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "Failed to list prompts")
		return
	}

	resp := PromptListResponse{
		Prompts: make([]PromptResponse, 0, len(prompts)),
		Count:   len(prompts),
	}
	for _, p := range prompts {
		resp.Prompts = append(resp.Prompts, newPromptResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *promptHandler) active(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Active(r.Context())
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				"No active prompt found", codePromptNotFound, err.Error())
			return
		}
		h.writeStoreError(w, err, "Failed to get active prompt")
		return
	}
	writeJSON(w, http.StatusOK, newPromptResponse(p))
}

func (h *promptHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promptID(w, r)
	if !ok {
		return
	}

	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			h.writeNotFound(w, id)
			return
		}
		h.writeStoreError(w, err, "Failed to get prompt")
		return
	}
	writeJSON(w, http.StatusOK, newPromptResponse(p))
}

func (h *promptHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			"I couldn't read that request.", codeInvalidRequest, err.Error())
		return
	}
	if req.Name == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest,
			"Both name and prompt are required.", codeInvalidRequest, "name and prompt must be non-empty")
		return
	}

	p, err := h.store.Create(r.Context(), prompt.CreateParams{
		Name:        req.Name,
		Content:     req.Prompt,
		Description: req.Description,
		Activate:    req.IsActive,
	})
	if err != nil {
		if errors.Is(err, prompt.ErrNameTaken) {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("Prompt with name '%s' already exists", req.Name),
				codePromptNameTaken, err.Error())
			return
		}
		h.writeStoreError(w, err, "Failed to create prompt")
		return
	}

	h.logger.Info("prompt created", "prompt_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusCreated, newPromptResponse(p))
}

func (h *promptHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promptID(w, r)
	if !ok {
		return
	}

	var req updatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			"I couldn't read that request.", codeInvalidRequest, err.Error())
		return
	}

	p, err := h.store.Update(r.Context(), id, prompt.UpdateParams{
		Name:        req.Name,
		Content:     req.Prompt,
		Description: req.Description,
		Active:      req.IsActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, prompt.ErrNotFound):
			h.writeNotFound(w, id)
		case errors.Is(err, prompt.ErrNameTaken):
			writeError(w, http.StatusConflict,
				"A prompt with that name already exists", codePromptNameTaken, err.Error())
		default:
			h.writeStoreError(w, err, "Failed to update prompt")
		}
		return
	}
	writeJSON(w, http.StatusOK, newPromptResponse(p))
}

func (h *promptHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promptID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, prompt.ErrPromptActive):
			writeError(w, http.StatusBadRequest,
				"Cannot delete the active prompt. Set another prompt as active first.",
				codePromptActive, err.Error())
		case errors.Is(err, prompt.ErrNotFound):
			h.writeNotFound(w, id)
		default:
			h.writeStoreError(w, err, "Failed to delete prompt")
		}
		return
	}

	h.logger.Info("prompt deleted", "prompt_id", id)
	writeJSON(w, http.StatusOK, PromptDeleteResponse{
		Message:  "Prompt deleted successfully",
		PromptID: id.String(),
	})
}

func (h *promptHandler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promptID(w, r)
	if !ok {
		return
	}

	p, err := h.store.Activate(r.Context(), id)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			h.writeNotFound(w, id)
			return
		}
		h.writeStoreError(w, err, "Failed to activate prompt")
		return
	}

	h.logger.Info("prompt activated", "prompt_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusOK, newPromptResponse(p))
}

// promptID parses the path id. A malformed id cannot match any prompt, so
// it reports 404 rather than 400.
func (h *promptHandler) promptID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("Prompt not found: %s", raw), codePromptNotFound, "invalid prompt id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *promptHandler) writeNotFound(w http.ResponseWriter, id uuid.UUID) {
	writeError(w, http.StatusNotFound,
		fmt.Sprintf("Prompt not found: %s", id), codePromptNotFound, prompt.ErrNotFound.Error())
}

func (h *promptHandler) writeStoreError(w http.ResponseWriter, err error, answer string) {
	h.logger.Error("prompt request failed", "error", err)
	writeError(w, http.StatusInternalServerError, answer, codeInternalError, err.Error())
}

func newPromptResponse(p prompt.Prompt) PromptResponse {
	return PromptResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Prompt:      p.Content,
		Description: p.Description,
		IsActive:    p.Active,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
