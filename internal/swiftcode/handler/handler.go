package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"swiftregistry/internal/platform/middleware"
	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/service"
	dErrors "swiftregistry/pkg/domain-errors"
	"swiftregistry/pkg/platform/httputil"
	"swiftregistry/pkg/requestcontext"
)

const (
	// maxUploadBytes bounds the workbook accepted by the import endpoint.
	maxUploadBytes = 32 << 20
	uploadField    = "file"
)

// Service defines the SWIFT code operations exposed over HTTP.
type Service interface {
	Lookup(ctx context.Context, code string) (*models.RecordView, error)
	LookupByCountry(ctx context.Context, countryISO2 string) (*models.CountryView, error)
	Create(ctx context.Context, req models.CreateRequest) (string, error)
	Delete(ctx context.Context, code string) error
	IngestWorkbook(ctx context.Context, r io.Reader) (*service.IngestResult, error)
}

// Handler serves the /v1/swift-codes routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// New creates a new SWIFT code Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the SWIFT code routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	codes := chi.NewRouter()
	codes.Use(middleware.Recovery(h.logger))
	codes.Use(middleware.RequestID)
	codes.Use(middleware.Logger(h.logger))
	codes.Use(middleware.Latency)

	codes.Post("/", h.HandleCreate)
	codes.Post("/import", h.HandleImport)
	codes.Get("/country/{countryISO2code}", h.HandleCountry)
	codes.Get("/{swiftCode}", h.HandleLookup)
	codes.Delete("/{swiftCode}", h.HandleDelete)

	r.Mount("/v1/swift-codes", codes)
}

// HandleLookup returns a record with its branches when it is a headquarters.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	code := chi.URLParam(r, "swiftCode")

	view, err := h.svc.Lookup(ctx, code)
	if err != nil {
		h.logFailure(ctx, "swift code lookup failed", requestID, err, "swift_code", code)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleCountry lists every record registered in a country.
func (h *Handler) HandleCountry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	iso2 := chi.URLParam(r, "countryISO2code")

	view, err := h.svc.LookupByCountry(ctx, iso2)
	if err != nil {
		h.logFailure(ctx, "country lookup failed", requestID, err, "country_iso2", iso2)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCountryView(view))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	code, err := h.svc.Create(ctx, req.ToModel())
	if err != nil {
		h.logFailure(ctx, "swift code creation failed", requestID, err, "swift_code", req.SwiftCode)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "swift code created",
		"request_id", requestID,
		"swift_code", code,
	)
	httputil.WriteJSON(w, http.StatusCreated, MessageResponse{
		Message:   "SWIFT code created successfully.",
		SwiftCode: code,
	})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	code := chi.URLParam(r, "swiftCode")

	if err := h.svc.Delete(ctx, code); err != nil {
		h.logFailure(ctx, "swift code deletion failed", requestID, err, "swift_code", code)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "swift code deleted",
		"request_id", requestID,
		"swift_code", code,
	)
	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "SWIFT code deleted successfully."})
}

// HandleImport ingests an uploaded .xlsx workbook.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		h.logger.WarnContext(ctx, "workbook upload rejected",
			"request_id", requestID,
			"error", err,
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "uploaded file is too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	result, err := h.svc.IngestWorkbook(ctx, file)
	if err != nil {
		h.logFailure(ctx, "workbook import failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ImportResponse{
		Ingested: result.Persisted,
		Skipped:  result.Skipped,
		Linked:   result.Linked,
	})
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error, attrs ...any) {
	args := append([]any{"request_id", requestID, "error", err}, attrs...)
	if httputil.StatusFor(codeOf(err)) < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, msg, args...)
		return
	}
	h.logger.ErrorContext(ctx, msg, args...)
}

func codeOf(err error) dErrors.Code {
	if de, ok := dErrors.As(err); ok {
		return de.Code
	}
	return dErrors.CodeInternal
}
