package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quora/internal/core"
	"quora/internal/randchoice"
)

// ChoiceService is implemented by *randchoice.Service.
type ChoiceService interface {
	Submit(ctx context.Context, choiceID, userID int64, optionIDs []int64) error
	Withdraw(ctx context.Context, choiceID, userID int64) error
	Results(ctx context.Context, choiceID, userID int64) (*randchoice.Results, error)
}

var _ ChoiceService = (*randchoice.Service)(nil)

// SubmitAnswerRequest is the body of POST /v1/choices/{choiceID}/answers.
type SubmitAnswerRequest struct {
	OptionIDs []int64 `json:"option_ids" validate:"required,min=1,dive,gt=0"`
}

// ChoiceHandler serves randchoice answers and results.
type ChoiceHandler struct {
	choices   ChoiceService
	validator *core.Validator
	logger    *slog.Logger
}

func NewChoiceHandler(choices ChoiceService, v *core.Validator, l *slog.Logger) *ChoiceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ChoiceHandler{choices: choices, validator: v, logger: l}
}

// RegisterRoutes mounts the randchoice routes.
func (h *ChoiceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/choices/{choiceID}", func(r chi.Router) {
		r.Post("/answers", h.Submit)
		r.Delete("/answers", h.Withdraw)
		r.Get("/results", h.Results)
	})
}

// Submit handles POST /v1/choices/{choiceID}/answers and answers with the
// updated results.
func (h *ChoiceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, choiceID, err := choiceRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req SubmitAnswerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.choices.Submit(r.Context(), choiceID, userID, req.OptionIDs); err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeResults(w, r, choiceID, userID)
}

// Withdraw handles DELETE /v1/choices/{choiceID}/answers.
func (h *ChoiceHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, choiceID, err := choiceRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.choices.Withdraw(r.Context(), choiceID, userID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Results handles GET /v1/choices/{choiceID}/results.
func (h *ChoiceHandler) Results(w http.ResponseWriter, r *http.Request) {
	userID, choiceID, err := choiceRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeResults(w, r, choiceID, userID)
}

func (h *ChoiceHandler) writeResults(w http.ResponseWriter, r *http.Request, choiceID, userID int64) {
	res, err := h.choices.Results(r.Context(), choiceID, userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

func choiceRequest(r *http.Request) (int64, int64, error) {
	userID, err := core.UserID(r)
	if err != nil {
		return 0, 0, err
	}
	choiceID, err := core.PathID(r, "choiceID")
	if err != nil {
		return 0, 0, err
	}
	return userID, choiceID, nil
}
