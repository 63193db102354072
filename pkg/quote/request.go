package quote

import (
	"fmt"
	"math"
	"strings"

	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/pricing"
)

// Client-facing error codes. The HTTP layer maps user-correctable codes to
// 4xx and upstream trouble to 5xx.
const (
	CodeInvalidDimensions = "INVALID_DIMENSIONS"
	CodeInvalidWeight     = "INVALID_WEIGHT"
	CodeInvalidBoxCount   = "INVALID_BOX_COUNT"
	CodeInvalidCustomerID = "INVALID_CUSTOMER_ID"
	CodePincodeNotFound   = "PINCODE_NOT_FOUND"
	CodeNoRoadRoute       = "NO_ROAD_ROUTE"
	CodeAPIKeyMissing     = "API_KEY_MISSING"
	CodeAPITimeout        = "API_TIMEOUT"
	CodeDistanceAPI       = "GOOGLE_API_ERROR"
)

const (
	// DefaultMode is assumed when the request does not name a transport mode.
	DefaultMode = "surface"

	// MinInvoiceValue and MaxInvoiceValue bound the declared shipment value;
	// out-of-range values are clamped, not rejected.
	MinInvoiceValue = 1.0
	MaxInvoiceValue = 1e8

	maxOwnerIDLen = 64
)

// RequestError is a structured rejection of a quote request.
type RequestError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserError reports whether the caller can fix the request. Distance
// provider failures are not user errors.
func (e *RequestError) UserError() bool {
	switch e.Code {
	case CodeAPIKeyMissing, CodeAPITimeout, CodeDistanceAPI:
		return false
	}
	return true
}

// Request is one quote request. Either Boxes or the legacy flat fields
// describe the shipment; Normalize folds the legacy form into Boxes.
type Request struct {
	OwnerCustomerID string        `json:"ownerCustomerId,omitempty"`
	Origin          geo.Pincode   `json:"origin"`
	Destination     geo.Pincode   `json:"destination"`
	Mode            string        `json:"mode,omitempty"`
	InvoiceValue    float64       `json:"invoiceValue,omitempty"`
	Boxes           []pricing.Box `json:"boxes,omitempty"`

	// Legacy flat shipment form, still sent by older clients.
	Length    float64 `json:"length,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	NoOfBoxes int     `json:"noOfBoxes,omitempty"`
}

// Normalize validates the request and rewrites it into canonical form:
// legacy dimensions become a one-entry Boxes slice, the mode is lowercased
// and defaulted, the invoice value is clamped into its accepted range.
func (r *Request) Normalize() *RequestError {
	r.OwnerCustomerID = strings.TrimSpace(r.OwnerCustomerID)
	if len(r.OwnerCustomerID) > maxOwnerIDLen || strings.ContainsAny(r.OwnerCustomerID, " \t\r\n") {
		return &RequestError{Code: CodeInvalidCustomerID, Message: "customer id is malformed"}
	}

	if !r.Origin.IsValid() {
		return &RequestError{Code: CodePincodeNotFound,
			Message: fmt.Sprintf("origin %d is not a valid pincode", r.Origin)}
	}
	if !r.Destination.IsValid() {
		return &RequestError{Code: CodePincodeNotFound,
			Message: fmt.Sprintf("destination %d is not a valid pincode", r.Destination)}
	}

	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	if r.Mode == "" {
		r.Mode = DefaultMode
	}

	if len(r.Boxes) == 0 {
		count := r.NoOfBoxes
		if count == 0 {
			count = 1
		}
		r.Boxes = []pricing.Box{{
			Length: r.Length,
			Width:  r.Width,
			Height: r.Height,
			Weight: r.Weight,
			Count:  count,
		}}
	}
	for i := range r.Boxes {
		b := &r.Boxes[i]
		if b.Count == 0 {
			b.Count = 1
		}
		if b.Count < 1 {
			return &RequestError{Code: CodeInvalidBoxCount,
				Message: fmt.Sprintf("box %d has count %d, want at least 1", i+1, b.Count)}
		}
		if !positive(b.Length) || !positive(b.Width) || !positive(b.Height) {
			return &RequestError{Code: CodeInvalidDimensions,
				Message: fmt.Sprintf("box %d needs positive dimensions", i+1)}
		}
		if b.Weight < 0 || math.IsNaN(b.Weight) || math.IsInf(b.Weight, 0) {
			return &RequestError{Code: CodeInvalidWeight,
				Message: fmt.Sprintf("box %d has an invalid weight", i+1)}
		}
	}

	if math.IsNaN(r.InvoiceValue) || r.InvoiceValue < MinInvoiceValue {
		r.InvoiceValue = MinInvoiceValue
	}
	if r.InvoiceValue > MaxInvoiceValue {
		r.InvoiceValue = MaxInvoiceValue
	}
	return nil
}

// positive reports whether x is a finite value greater than zero. NaN is
// not positive.
func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}
