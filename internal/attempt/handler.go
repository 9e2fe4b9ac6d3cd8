package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"examprep/internal/app/apiresp"
	"examprep/internal/auth"
	"examprep/internal/catalog"
)

type attemptService interface {
	StartAttempt(ctx context.Context, userID, testID int64) (*StartResult, error)
	GetAttemptQuestions(ctx context.Context, attemptID, userID int64) (*AttemptQuestions, error)
	SaveAnswer(ctx context.Context, in SaveAnswerInput) error
	FinishAttempt(ctx context.Context, attemptID, userID int64) (*FinishResult, error)
	GetAttemptReview(ctx context.Context, attemptID, userID int64) (*AttemptReview, error)
	ListAttempts(ctx context.Context, userID int64) ([]AttemptSummary, error)
}

type Handler struct {
	svc attemptService
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := idParam(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	res, err := h.svc.StartAttempt(r.Context(), user.ID, testID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrTestNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		case errors.Is(err, ErrNoQuestions):
			apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, "no_content", "no questions available for this test")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	apiresp.WriteOK(w, r, status, res)
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	res, err := h.svc.GetAttemptQuestions(r.Context(), attemptID, user.ID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

type saveAnswerRequest struct {
	AnswerIDs  []int64 `json:"answer_ids"`
	TextAnswer string  `json:"text_answer"`
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}
	questionID, err := idParam(r, "questionID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.svc.SaveAnswer(r.Context(), SaveAnswerInput{
		AttemptID:  attemptID,
		UserID:     user.ID,
		QuestionID: questionID,
		AnswerIDs:  req.AnswerIDs,
		TextAnswer: req.TextAnswer,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, "answer ids must be positive")
			return
		}
		if errors.Is(err, ErrSlotNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "question is not part of this attempt")
			return
		}
		h.writeAttemptError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"saved": true})
}

func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	res, err := h.svc.FinishAttempt(r.Context(), attemptID, user.ID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	res, err := h.svc.GetAttemptReview(r.Context(), attemptID, user.ID)
	if err != nil {
		if errors.Is(err, ErrResultNotAvailable) {
			apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
			return
		}
		h.writeAttemptError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.svc.ListAttempts(r.Context(), user.ID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) writeAttemptError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
	case errors.Is(err, ErrNotInProgress):
		apiresp.WriteError(w, r, http.StatusConflict, "attempt is not in progress")
	case errors.Is(err, ErrTimeExpired):
		apiresp.WriteError(w, r, http.StatusConflict, "attempt time has expired")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
