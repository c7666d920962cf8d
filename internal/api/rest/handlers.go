package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
	"github.com/davidleathers/risk-scoring-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
)

// maxBodySize bounds request bodies
const maxBodySize = 1 << 20

// Handlers serves the risk API
type Handlers struct {
	svc      orchestrator.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(svc orchestrator.Service, logger *zap.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Calculate scores a transaction synchronously
func (h *Handlers) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.svc.Process(r.Context(), req.Context())
	if err != nil {
		telemetry.WithTrace(r.Context(), h.logger).Warn("risk calculation failed",
			zap.String("transaction_id", req.TransactionID),
			zap.String("customer_id", req.CustomerID),
			zap.Error(err))
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !out.Replayed {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// Profile returns a customer's current risk profile
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetProfile(r.Context(), r.PathValue("customerId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Events lists a customer's events: the latest ones, or all of them after
// sinceVersion when given.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerId")
	q := r.URL.Query()

	var (
		entries []riskevent.Entry
		err     error
	)
	if since := q.Get("sinceVersion"); since != "" {
		version, perr := strconv.ParseInt(since, 10, 64)
		if perr != nil {
			writeError(w, r, domainerrors.NewValidationError("INVALID_VERSION", "sinceVersion must be an integer"))
			return
		}
		entries, err = h.svc.EventsSince(r.Context(), customerID, version)
	} else {
		limit, perr := intParam(q.Get("limit"))
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		entries, err = h.svc.RecentEvents(r.Context(), customerID, limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if entries == nil {
		entries = []riskevent.Entry{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{
		CustomerID:  customerID,
		Events:      entries,
		TotalEvents: len(entries),
	})
}

// Anomalies queries detected anomalies
func (h *Handlers) Anomalies(w http.ResponseWriter, r *http.Request) {
	query, err := parseAnomalyQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	found, err := h.svc.QueryAnomalies(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if found == nil {
		found = []anomaly.Anomaly{}
	}
	writeJSON(w, http.StatusOK, AnomaliesResponse{
		Anomalies:      found,
		TotalAnomalies: len(found),
		TimeWindow:     timeWindow(query.From, query.To),
	})
}

func (h *Handlers) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domainerrors.NewValidationError("BODY_TOO_LARGE", "request body too large")
		}
		return domainerrors.NewValidationError("INVALID_BODY", "request body is not valid JSON").WithCause(err)
	}

	if err := h.validate.Struct(v); err != nil {
		return validationFailure(err)
	}
	return nil
}

func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainerrors.NewValidationError("VALIDATION_FAILED", err.Error())
	}

	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return domainerrors.NewValidationError("VALIDATION_FAILED", "request validation failed").
		WithDetails(map[string]interface{}{"fields": fields})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domainerrors.NewValidationError("INVALID_LIMIT", "limit must be an integer")
	}
	return n, nil
}

func timeParam(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domainerrors.NewValidationError("INVALID_TIME",
			name+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func parseAnomalyQuery(r *http.Request) (anomaly.Query, error) {
	q := r.URL.Query()

	from, err := timeParam("from", q.Get("from"))
	if err != nil {
		return anomaly.Query{}, err
	}
	to, err := timeParam("to", q.Get("to"))
	if err != nil {
		return anomaly.Query{}, err
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return anomaly.Query{}, err
	}

	query := anomaly.Query{
		CustomerID: q.Get("customerId"),
		Type:       anomaly.Type(strings.ToUpper(q.Get("type"))),
		Severity:   risk.Severity(strings.ToUpper(q.Get("severity"))),
		Status:     anomaly.Status(strings.ToUpper(q.Get("status"))),
		From:       from,
		To:         to,
		Limit:      limit,
	}

	switch query.Type {
	case "", anomaly.TypeImpossibleTravel, anomaly.TypeVelocitySpike,
		anomaly.TypeAmountDeviation, anomaly.TypeUnusualMerchant:
	default:
		return anomaly.Query{}, domainerrors.NewValidationError("INVALID_TYPE", "unknown anomaly type")
	}
	switch query.Severity {
	case "", risk.SeverityLow, risk.SeverityMedium, risk.SeverityHigh:
	default:
		return anomaly.Query{}, domainerrors.NewValidationError("INVALID_SEVERITY", "unknown severity")
	}
	return query, nil
}
