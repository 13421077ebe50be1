package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

const maxBodyBytes = 1 << 20

// Amount is a money field that accepts a JSON number or a string with a
// dot or comma separator.
type Amount struct {
	Value decimal.Decimal
	Set   bool
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}

	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}

	d, err := core.ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = Amount{Value: d, Set: true}
	return nil
}

// require returns the parsed value or an InvalidData error naming field.
func (a Amount) require(field string) (decimal.Decimal, error) {
	if !a.Set {
		return decimal.Zero, core.InvalidData("%s is required", field)
	}
	return a.Value, nil
}

type envelopeRequest struct {
	Title  string `json:"title"`
	Budget Amount `json:"budget"`
}

type withdrawRequest struct {
	Amount    Amount `json:"amount"`
	Reference string `json:"reference"`
}

type transferRequest struct {
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	Amount        Amount `json:"amount"`
	Reference     string `json:"reference"`
}

// decodeJSON reads one JSON object from the body into dst. Unknown fields,
// trailing data and oversized bodies are rejected as invalid data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var ce *core.Error
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &ce):
			return err
		case errors.Is(err, io.EOF):
			return core.InvalidData("request body is empty")
		case errors.As(err, &maxErr):
			return core.InvalidData("request body exceeds %d bytes", maxErr.Limit)
		default:
			return core.InvalidData("malformed request body: %v", err)
		}
	}
	if dec.More() {
		return core.InvalidData("request body must contain a single JSON object")
	}
	return nil
}

// pathID parses the named path value as a positive id.
func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.InvalidData("%s %q is not a valid id", name, raw)
	}
	return id, nil
}
