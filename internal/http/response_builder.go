package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
	"envelopes/internal/log"
)

const (
	statusSuccess = "Success"
	statusFailed  = "Failed"
)

// apiResponse is the body of every JSON reply.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSONResponseBuilder assembles a reply and writes it in one step.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       apiResponse
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
		body:       apiResponse{Status: statusSuccess},
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	if code >= 400 {
		b.body.Status = statusFailed
	}
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Message(msg string) *JSONResponseBuilder {
	b.body.Message = msg
	return b
}

func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.body.Data = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Message(message)
}

func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Header("Allow", allowedMethods)
}

// statusFor maps a ledger error kind to its HTTP status.
func statusFor(err error) int {
	switch kind := core.KindOf(err); {
	case errors.Is(kind, core.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(kind, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, core.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the status for err's kind. Storage failures are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().WithError(err).WithComponent(log.ComponentHTTP).ToSlice()...)
		message = "internal error"
	}
	ErrorResponse(status, message).Write(w)
}

type envelopeDTO struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Budget string `json:"budget"`
}

type refDTO struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type transactionDTO struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind"`
	Reference   string  `json:"reference"`
	Amount      string  `json:"amount"`
	Date        string  `json:"date"`
	Source      *refDTO `json:"source"`
	Destination *refDTO `json:"destination"`
}

type receiptDTO struct {
	Source      envelopeDTO    `json:"source"`
	Destination *envelopeDTO   `json:"destination,omitempty"`
	Transaction transactionDTO `json:"transaction"`
}

type summaryDTO struct {
	Envelopes   int    `json:"envelopes"`
	TotalBudget string `json:"total_budget"`
}

func toEnvelopeDTO(e core.Envelope) envelopeDTO {
	return envelopeDTO{ID: e.ID, Title: e.Title, Budget: e.Budget.StringFixed(core.Scale)}
}

func toEnvelopeDTOs(envs []core.Envelope) []envelopeDTO {
	out := make([]envelopeDTO, 0, len(envs))
	for _, e := range envs {
		out = append(out, toEnvelopeDTO(e))
	}
	return out
}

func toRefDTO(ref *core.EnvelopeRef) *refDTO {
	if ref == nil {
		return nil
	}
	return &refDTO{ID: ref.ID, Title: ref.Title}
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:          t.ID,
		Kind:        string(t.Kind()),
		Reference:   t.Reference,
		Amount:      t.Amount.StringFixed(core.Scale),
		Date:        t.Date.UTC().Format(time.RFC3339Nano),
		Source:      toRefDTO(t.Source),
		Destination: toRefDTO(t.Destination),
	}
}

func toTransactionDTOs(txns []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionDTO(t))
	}
	return out
}

func toReceiptDTO(r ledger.Receipt) receiptDTO {
	out := receiptDTO{
		Source:      toEnvelopeDTO(r.Source),
		Transaction: toTransactionDTO(r.Transaction),
	}
	if r.Destination != nil {
		dst := toEnvelopeDTO(*r.Destination)
		out.Destination = &dst
	}
	return out
}
