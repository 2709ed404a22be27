// Package handler exposes the proof registration HTTP API.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sigillum/internal/platform/middleware"
	"sigillum/internal/proof/models"
	"sigillum/internal/transport/http/shared"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
)

// maxContentBytes bounds the multipart upload size.
const maxContentBytes = 32 << 20

// Service defines the pipeline operations the handler needs.
type Service interface {
	Register(ctx context.Context, req models.RegistrationRequest) models.RegistrationOutcome
	Status(ctx context.Context, key domain.RegistrationKey) (models.PipelineState, error)
	Get(ctx context.Context, key domain.RegistrationKey) (*models.ProofRecord, error)
	ListByOwner(ctx context.Context, owner domain.OwnerAddress) ([]*models.ProofRecord, error)
}

// Handler handles proof registration endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	jwtValidator middleware.JWTValidator
}

// New creates a new proof Handler.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		jwtValidator: jwtValidator,
	}
}

// Register registers the proof routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	proofRouter := chi.NewRouter()
	proofRouter.Use(middleware.Recovery(h.logger))
	proofRouter.Use(middleware.RequestID)
	proofRouter.Use(middleware.Logger(h.logger))
	proofRouter.Use(middleware.Timeout(5 * time.Minute))
	proofRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	proofRouter.Post("/proofs", h.handleRegister)
	proofRouter.Get("/proofs", h.handleList)
	proofRouter.Get("/proofs/{key}", h.handleGet)
	proofRouter.Get("/proofs/{key}/status", h.handleStatus)

	r.Mount("/", proofRouter)
}

type recordResponse struct {
	Key             string          `json:"key"`
	Digest          string          `json:"digest"`
	Owner           string          `json:"owner"`
	StorageLocator  string          `json:"storage_locator"`
	StorageVerified bool            `json:"storage_verified"`
	Metadata        models.Metadata `json:"metadata"`
	TxHash          string          `json:"tx_hash,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type outcomeResponse struct {
	Outcome string          `json:"outcome"`
	TxHash  string          `json:"tx_hash,omitempty"`
	Record  *recordResponse `json:"record,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func toRecordResponse(record *models.ProofRecord) *recordResponse {
	return &recordResponse{
		Key:             record.Key.String(),
		Digest:          record.Digest.String(),
		Owner:           record.Owner.String(),
		StorageLocator:  record.StorageLocator,
		StorageVerified: record.StorageVerified,
		Metadata:        record.Metadata,
		TxHash:          record.TxHash.String(),
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

// handleRegister accepts a multipart registration request and runs the
// pipeline synchronously. The response status reflects the outcome:
// 201 confirmed, 202 awaiting confirmation, 409 cancelled by the owner.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	owner := middleware.GetOwner(ctx)
	if owner.IsZero() {
		h.logger.ErrorContext(ctx, "owner missing from context despite auth middleware",
			"request_id", requestID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	req, err := parseRegistration(r, owner)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid registration request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	outcome := h.service.Register(ctx, req)
	switch outcome.Kind {
	case models.OutcomeSucceeded:
		shared.WriteJSON(w, http.StatusCreated, outcomeResponse{
			Outcome: string(outcome.Kind),
			TxHash:  outcome.TxHash.String(),
			Record:  toRecordResponse(outcome.Record),
		})
	case models.OutcomeAwaitingConfirmation:
		shared.WriteJSON(w, http.StatusAccepted, outcomeResponse{
			Outcome: string(outcome.Kind),
			TxHash:  outcome.TxHash.String(),
		})
	case models.OutcomeCancelled:
		shared.WriteJSON(w, http.StatusConflict, outcomeResponse{
			Outcome: string(outcome.Kind),
			Error:   outcome.Err.Error(),
		})
	default:
		h.logger.WarnContext(ctx, "registration failed",
			"request_id", requestID,
			"code", string(dErrors.GetCode(outcome.Err)),
			"error", outcome.Err.Error(),
		)
		shared.WriteError(w, outcome.Err)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := domain.ParseRegistrationKey(chi.URLParam(r, "key"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid registration key"))
		return
	}

	record, err := h.service.Get(ctx, key)
	if err != nil {
		h.writeLookupError(w, r, key, err)
		return
	}
	// Private records are visible to their owner only. Answer 404 rather
	// than 403 so the key does not leak record existence.
	if record.Metadata.Visibility != models.VisibilityPublic &&
		record.Owner.Canonical() != middleware.GetOwner(ctx).Canonical() {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "record not found"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := domain.ParseRegistrationKey(chi.URLParam(r, "key"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid registration key"))
		return
	}

	state, err := h.service.Status(ctx, key)
	if err != nil {
		h.writeLookupError(w, r, key, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, state)
}

// handleList returns the authenticated owner's records, public and private
// alike; visibility only filters other viewers' record reads.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := middleware.GetOwner(ctx)
	if owner.IsZero() {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	records, err := h.service.ListByOwner(ctx, owner)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list records",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list records"))
		return
	}

	responses := make([]*recordResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toRecordResponse(record))
	}
	shared.WriteJSON(w, http.StatusOK, responses)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, key domain.RegistrationKey, err error) {
	ctx := r.Context()
	if errors.Is(err, sentinel.ErrNotFound) {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "registration not found"))
		return
	}
	h.logger.ErrorContext(ctx, "record lookup failed",
		"request_id", middleware.GetRequestID(ctx),
		"registration_key", key.String(),
		"error", err.Error(),
	)
	shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "record lookup failed"))
}

// parseRegistration reads the multipart form: a "content" file part plus
// metadata fields.
func parseRegistration(r *http.Request, owner domain.OwnerAddress) (models.RegistrationRequest, error) {
	if err := r.ParseMultipartForm(maxContentBytes); err != nil {
		return models.RegistrationRequest{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "expected multipart form")
	}

	file, _, err := r.FormFile("content")
	if err != nil {
		return models.RegistrationRequest{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "content file part is required")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxContentBytes+1))
	if err != nil {
		return models.RegistrationRequest{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read content")
	}
	if len(content) > maxContentBytes {
		return models.RegistrationRequest{}, dErrors.New(dErrors.CodeBadRequest, "content exceeds the size limit")
	}

	visibility := models.Visibility(r.FormValue("visibility"))
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}

	return models.RegistrationRequest{
		Content: content,
		Metadata: models.Metadata{
			Title:       r.FormValue("title"),
			Category:    r.FormValue("category"),
			Description: r.FormValue("description"),
			Visibility:  visibility,
		},
		Owner: owner,
	}, nil
}
