package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/repository/postgresql"
	"firefly-ai-categorize/internal/service"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	jobSvc *service.JobService
	log    *zerolog.Logger
}

func NewHandler(jobSvc *service.JobService, log *zerolog.Logger) *Handler {
	return &Handler{jobSvc: jobSvc, log: log}
}

type createJobDTO struct {
	TransactionID string   `json:"transaction_id"`
	MerchantName  string   `json:"merchant_name"`
	Description   string   `json:"description"`
	Amount        string   `json:"amount"`
	Tags          []string `json:"tags"`
}

type createJobResp struct {
	JobID int64 `json:"job_id"`
}

type jobResp struct {
	ID            int64            `json:"id"`
	TransactionID string           `json:"transaction_id"`
	MerchantName  string           `json:"merchant_name"`
	Description   string           `json:"description"`
	Amount        string           `json:"amount"`
	Tags          []string         `json:"tags"`
	Status        entity.JobStatus `json:"status"`
	Attempts      int              `json:"attempts"`
	Error         *string          `json:"error,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

type healthResp struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func toJobResp(j *entity.Job) jobResp {
	return jobResp{
		ID:            j.ID,
		TransactionID: j.TransactionID,
		MerchantName:  j.MerchantName,
		Description:   j.Description,
		Amount:        j.Amount,
		Tags:          j.Tags.Values(),
		Status:        j.Status,
		Attempts:      j.Attempts,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     j.UpdatedAt.Format(time.RFC3339),
	}
}

// Webhook godoc
// @Summary Receive a Firefly III webhook
// @Description Validates a STORE_TRANSACTION webhook for an uncategorized withdrawal and queues it.
// @Tags webhook
// @Accept json
// @Produce json
// @Param Signature header string false "t=<unix>,v1=<hex> (required when a webhook secret is configured)"
// @Success 202 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 500 {object} apiError
// @Router /webhook [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "unreadable body")
		return
	}

	id, err := h.jobSvc.EnqueueFromWebhook(r.Context(), body, r.Header.Get("Signature"))
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		writeErr(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, service.ErrInvalidWebhook), errors.Is(err, service.ErrInvalidRequest):
		h.log.Debug().Err(err).Msg("webhook rejected")
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Msg("webhook enqueue failed")
		writeErr(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResp{JobID: id})
}

// CreateJob godoc
// @Summary Queue a transaction for categorization
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "transaction to categorize"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.Enqueue(r.Context(), service.EnqueueRequest{
		TransactionID: dto.TransactionID,
		MerchantName:  dto.MerchantName,
		Description:   dto.Description,
		Amount:        dto.Amount,
		Tags:          dto.Tags,
	})
	if errors.Is(err, service.ErrInvalidRequest) {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("enqueue failed")
		writeErr(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{JobID: id})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if errors.Is(err, postgresql.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("job_id", id).Msg("get job failed")
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(j))
}

// ListJobs godoc
// @Summary List jobs, newest first
// @Tags jobs
// @Produce json
// @Param status query string false "pending|processing|completed|failed"
// @Param limit query int false "page size (default 50, max 500)"
// @Param offset query int false "offset"
// @Success 200 {array} jobResp
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.JobFilter{Status: entity.JobStatus(q.Get("status"))}

	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			writeErr(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	jobs, err := h.jobSvc.ListJobs(r.Context(), f)
	if errors.Is(err, service.ErrInvalidRequest) {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs failed")
		writeErr(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]jobResp, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResp(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Health godoc
// @Summary Liveness and queue backlog
// @Tags health
// @Produce json
// @Success 200 {object} healthResp
// @Failure 503 {object} apiError
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.jobSvc.PendingCount(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		writeErr(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, healthResp{Status: "ok", Pending: n})
}
