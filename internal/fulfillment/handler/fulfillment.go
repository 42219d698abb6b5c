package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/service"
	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
	"github.com/dispatchrx/dispatchrx-backend/pkg/httputil"
	"github.com/dispatchrx/dispatchrx-backend/pkg/i18n"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxBarcodeLength bounds path and body input before decoding
const maxBarcodeLength = 200

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidations registers the validation tags used by request
// bodies. It runs once per process; later calls return the first result.
func RegisterValidations() error {
	registerOnce.Do(func() {
		registerErr = httputil.RegisterCustomValidation("tracking_mode", func(fl validator.FieldLevel) bool {
			return domain.TrackingMode(fl.Field().String()).Valid()
		}, map[string]string{
			i18n.LocaleEnglish: "{0} must be one of: serialized, device_tracked, simple",
			i18n.LocaleTurkish: "{0} şunlardan biri olmalıdır: serialized, device_tracked, simple",
		})
		if registerErr != nil {
			registerErr = fmt.Errorf("failed to register tracking_mode validation: %w", registerErr)
		}
	})
	return registerErr
}

// FulfillmentHandler exposes scanning sessions over HTTP
type FulfillmentHandler struct {
	service *service.FulfillmentService
	logger  *logger.Logger
}

// NewFulfillmentHandler creates a new fulfillment handler. It fails when
// the request validations cannot be registered.
func NewFulfillmentHandler(svc *service.FulfillmentService, log *logger.Logger) (*FulfillmentHandler, error) {
	if err := RegisterValidations(); err != nil {
		return nil, err
	}
	return &FulfillmentHandler{
		service: svc,
		logger:  log,
	}, nil
}

// Routes mounts the handler under /api/v1/fulfillment
func (h *FulfillmentHandler) Routes(r chi.Router) {
	r.Route("/api/v1/fulfillment", func(r chi.Router) {
		r.Post("/documents", h.ImportDocument)
		r.Route("/documents/{id}", func(r chi.Router) {
			r.Post("/open", h.OpenDocument)
			r.Delete("/", h.CloseDocument)
			r.Post("/scans", h.Scan)
			r.Get("/summary", h.Summary)
			r.Post("/finalize", h.Finalize)
			r.Get("/notifications", h.ListNotifications)
		})
		r.Put("/manifests/{label}", h.ReplaceManifest)
		r.Get("/decode/{barcode}", h.Decode)
	})
}

// ScanRequest is the body of a scan
type ScanRequest struct {
	ScanID  string `json:"scan_id" validate:"omitempty,max=64,printascii"`
	Barcode string `json:"barcode" validate:"required,max=200"`
	Mode    string `json:"mode" validate:"omitempty,oneof=add remove"`
}

// LineItemRequest is one line of an imported document
type LineItemRequest struct {
	ID               string `json:"id" validate:"omitempty,uuid"`
	ProductCode      string `json:"product_code" validate:"required,max=64"`
	GTIN             string `json:"gtin" validate:"omitempty,numeric,max=14"`
	Name             string `json:"name" validate:"max=255"`
	TrackingMode     string `json:"tracking_mode" validate:"required,tracking_mode"`
	ExpectedQuantity int    `json:"expected_quantity" validate:"min=0"`
}

// ImportDocumentRequest is the body of a document import
type ImportDocumentRequest struct {
	ID     string            `json:"id" validate:"omitempty,uuid"`
	Number string            `json:"number" validate:"required,max=64"`
	Kind   string            `json:"kind" validate:"omitempty,oneof=invoice order"`
	Lines  []LineItemRequest `json:"lines" validate:"required,min=1,dive"`
}

// ManifestRequest is the full contents of a carrier
type ManifestRequest struct {
	Entries []ManifestEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

// ManifestEntryRequest is one GTIN of a carrier
type ManifestEntryRequest struct {
	GTIN  string `json:"gtin" validate:"required,numeric,max=14"`
	Count int    `json:"count" validate:"min=1"`
}

// ScanResponse is the scan outcome with operator-facing messages
type ScanResponse struct {
	*service.ScanOutcome
	Message        string `json:"message,omitempty"`
	WarningMessage string `json:"warning_message,omitempty"`
}

// ImportDocument stores a new document
func (h *FulfillmentHandler) ImportDocument(w http.ResponseWriter, r *http.Request) {
	var req ImportDocumentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(r.Context(), req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	doc := &domain.Document{
		ID:     req.ID,
		Number: req.Number,
		Kind:   domain.DocumentKind(req.Kind),
		Lines:  make([]domain.LineItem, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		doc.Lines = append(doc.Lines, domain.LineItem{
			ID:               l.ID,
			ProductCode:      l.ProductCode,
			GTIN:             l.GTIN,
			Name:             l.Name,
			TrackingMode:     domain.TrackingMode(l.TrackingMode),
			ExpectedQuantity: l.ExpectedQuantity,
		})
	}

	if err := h.service.ImportDocument(r.Context(), doc); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, doc)
}

// OpenDocument starts a scanning session
func (h *FulfillmentHandler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.OpenDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, summary)
}

// CloseDocument ends a scanning session
func (h *FulfillmentHandler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// Scan applies one scan. Refused scans answer 422 with the localized
// reason; accepted and partially applied scans answer 200.
func (h *FulfillmentHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(r.Context(), req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	mode, err := domain.ParseScanMode(req.Mode)
	if err != nil {
		httputil.Error(w, r, errors.Validation(map[string]string{"mode": "must be one of: add remove"}))
		return
	}

	out, err := h.service.Scan(r.Context(), service.ScanRequest{
		DocumentID: chi.URLParam(r, "id"),
		ScanID:     req.ScanID,
		Barcode:    req.Barcode,
		Mode:       mode,
		Operator:   httputil.GetOperator(r.Context()),
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	if out.Rejection != nil && !out.Changed() {
		httputil.Error(w, r, errors.ScanRejected(string(out.Rejection.Reason), out.Rejection.Params))
		return
	}

	localizer := i18n.LocalizerFromContext(r.Context())
	resp := ScanResponse{ScanOutcome: out}
	if out.Rejection != nil {
		resp.Message = localizer.T("scan."+string(out.Rejection.Reason), out.Rejection.Params)
	}
	if out.Warning != nil {
		resp.WarningMessage = localizer.T("scan."+string(out.Warning.Reason), out.Warning.Params)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Summary returns the progress of an open document
func (h *FulfillmentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, summary)
}

// Finalize hands a complete document to the regulatory notifier
func (h *FulfillmentHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.Accepted(w, result)
}

// ListNotifications returns the regulator verdicts of a document
func (h *FulfillmentHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.NotificationOutcomes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, outcomes)
}

// ReplaceManifest stores the contents of a carrier label
func (h *FulfillmentHandler) ReplaceManifest(w http.ResponseWriter, r *http.Request) {
	var req ManifestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(r.Context(), req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	entries := make([]domain.ManifestEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, domain.ManifestEntry{GTIN: e.GTIN, Count: e.Count})
	}

	if err := h.service.ReplaceManifest(r.Context(), chi.URLParam(r, "label"), entries); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// Decode classifies a barcode without a session
func (h *FulfillmentHandler) Decode(w http.ResponseWriter, r *http.Request) {
	barcode := chi.URLParam(r, "barcode")
	if barcode == "" {
		httputil.Error(w, r, errors.BadRequest("barcode is required").WithKey("errors.barcode_required", nil))
		return
	}
	if len(barcode) > maxBarcodeLength {
		httputil.Error(w, r, errors.BadRequest("barcode too long").
			WithKey("errors.barcode_too_long", map[string]string{"max": strconv.Itoa(maxBarcodeLength)}))
		return
	}

	httputil.JSON(w, http.StatusOK, h.service.Decode(barcode))
}
