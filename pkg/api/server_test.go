package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/nearest"
	"github.com/shipkaro/freightrate/pkg/pricing"
	"github.com/shipkaro/freightrate/pkg/quote"
	"github.com/shipkaro/freightrate/pkg/registry"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))

const testCatalog = `[
  {"pincode": 110001, "zone": "N1"},
  {"pincode": 560001, "zone": "S1"}
]`

type fakeEngine struct {
	resp *quote.Response
	err  error
	got  *quote.Request
}

func (f *fakeEngine) Quote(_ context.Context, req *quote.Request) (*quote.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeFinder struct {
	res       *nearest.Result
	err       error
	gotOrigin geo.Pincode
	gotDest   geo.Pincode
	gotOwner  string
	calls     int
}

func (f *fakeFinder) Find(_ context.Context, origin, dest geo.Pincode, ownerID string) (*nearest.Result, error) {
	f.calls++
	f.gotOrigin, f.gotDest, f.gotOwner = origin, dest, ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func testServer(t *testing.T, engine QuoteEngine, finder Finder, admin CarrierAdmin) *Server {
	t.Helper()
	s, err := New(Config{Logger: testLogger, Engine: engine, Finder: finder, Admin: admin})
	require.NoError(t, err)
	return s
}

// testAdmin backs the admin endpoints with a real registry over an empty temp
// dir; Entry carries unexported compiled state, so a fake cannot mint the
// return values the handlers summarise.
func testAdmin(t *testing.T) *registry.Registry {
	t.Helper()
	zones, err := geo.NewZoneIndex(strings.NewReader(testCatalog))
	require.NoError(t, err)
	reg, err := registry.New(context.Background(), registry.Config{
		Dir:    t.TempDir(),
		Zones:  zones,
		Logger: testLogger,
	})
	require.NoError(t, err)
	return reg
}

func utsfBody(t *testing.T, id, name string) *bytes.Reader {
	t.Helper()
	data, err := carrier.EncodeUTSF(&carrier.File{
		Version: carrier.FormatVersion,
		Meta: carrier.Meta{
			ID:             id,
			CompanyName:    name,
			ApprovalStatus: carrier.ApprovalApproved,
		},
		Pricing: carrier.Pricing{
			PriceRate: carrier.PriceRate{KFactor: 5000},
			ZoneRates: carrier.ZoneRates{"N1": {"S1": 10}},
		},
		Serviceability: map[string]*carrier.ZoneRules{
			"N1": {Mode: carrier.ModeFullZone},
			"S1": {Mode: carrier.ModeFullZone},
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func do(s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServerRequiresEngine(t *testing.T) {
	_, err := New(Config{Logger: testLogger})
	require.Error(t, err)
}

func TestServerHealthz(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, nil)

	rec := do(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestServerCalculate(t *testing.T) {
	engine := &fakeEngine{resp: &quote.Response{
		TiedUpResult:  []pricing.Quote{{CarrierName: "Acme Logistics", TotalCharges: 110}},
		CompanyResult: []pricing.Quote{},
		DistanceKm:    2100,
		DistanceText:  "2100 km",
		EstimatedDays: 4,
	}}
	s := testServer(t, engine, nil, nil)

	body, err := json.Marshal(quote.Request{
		OwnerCustomerID: "CUST-1",
		Origin:          110001,
		Destination:     560001,
		Boxes:           []pricing.Box{{Length: 30, Width: 30, Height: 30, Weight: 5, Count: 2}},
	})
	require.NoError(t, err)

	rec := do(s, http.MethodPost, "/api/v1/calculate", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.NotNil(t, engine.got)
	assert.Equal(t, geo.Pincode(110001), engine.got.Origin)
	assert.Equal(t, geo.Pincode(560001), engine.got.Destination)
	assert.Equal(t, "CUST-1", engine.got.OwnerCustomerID)

	var resp quote.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2100 km", resp.DistanceText)
	assert.Equal(t, 4, resp.EstimatedDays)
	require.Len(t, resp.TiedUpResult, 1)
	assert.Equal(t, "Acme Logistics", resp.TiedUpResult[0].CarrierName)
	assert.NotNil(t, resp.CompanyResult)
}

func TestServerCalculateBadJSON(t *testing.T) {
	engine := &fakeEngine{}
	s := testServer(t, engine, nil, nil)

	rec := do(s, http.MethodPost, "/api/v1/calculate", strings.NewReader("{origin:"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeBadRequest, decodeError(t, rec).Code)
	assert.Nil(t, engine.got)
}

func TestServerCalculateErrors(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		"caller mistake maps to 400": {
			err:        &quote.RequestError{Code: quote.CodeInvalidWeight, Message: "box 1 has an invalid weight"},
			wantStatus: http.StatusBadRequest,
			wantCode:   quote.CodeInvalidWeight,
		},
		"distance trouble maps to 500": {
			err:        &quote.RequestError{Code: quote.CodeAPITimeout, Message: "distance lookup timed out"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   quote.CodeAPITimeout,
		},
		"plain error stays opaque": {
			err:        errors.New("store exploded"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   codeInternal,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := testServer(t, &fakeEngine{err: tt.err}, nil, nil)

			rec := do(s, http.MethodPost, "/api/v1/calculate",
				strings.NewReader(`{"origin": 110001, "destination": 560001}`))
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestServerNearest(t *testing.T) {
	finder := &fakeFinder{res: &nearest.Result{
		NearestPincode: 110001,
		DistanceKm:     12.5,
		ServedBy:       []string{"Acme Logistics"},
	}}
	s := testServer(t, &fakeEngine{}, finder, nil)

	rec := do(s, http.MethodGet,
		"/api/v1/nearest-serviceable?pincode=560001&fromPincode=110001&customerId=CUST-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, geo.Pincode(110001), finder.gotOrigin)
	assert.Equal(t, geo.Pincode(560001), finder.gotDest)
	assert.Equal(t, "CUST-1", finder.gotOwner)

	var res nearest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, geo.Pincode(110001), res.NearestPincode)
	assert.InDelta(t, 12.5, res.DistanceKm, 1e-9)
	assert.Equal(t, []string{"Acme Logistics"}, res.ServedBy)
}

func TestServerNearestBadPincode(t *testing.T) {
	finder := &fakeFinder{}
	s := testServer(t, &fakeEngine{}, finder, nil)

	tests := map[string]string{
		"malformed destination": "/api/v1/nearest-serviceable?pincode=abc&fromPincode=110001",
		"short origin":          "/api/v1/nearest-serviceable?pincode=560001&fromPincode=1100",
	}
	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodGet, target, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, quote.CodePincodeNotFound, decodeError(t, rec).Code)
		})
	}
	assert.Zero(t, finder.calls)
}

func TestServerNearestErrors(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		"no candidate maps to 404": {
			err:        nearest.ErrNoServiceableCandidate,
			wantStatus: http.StatusNotFound,
			wantCode:   codeNoServiceable,
		},
		"finder trouble maps to 500": {
			err:        errors.New("registry offline"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   codeInternal,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := testServer(t, &fakeEngine{}, &fakeFinder{err: tt.err}, nil)

			rec := do(s, http.MethodGet,
				"/api/v1/nearest-serviceable?pincode=560001&fromPincode=110001", nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestServerCarrierLifecycle(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, testAdmin(t))

	rec := do(s, http.MethodPost, "/api/v1/carriers?editorId=ops&reason=onboarding",
		utsfBody(t, "UTSF-1", "Acme Logistics"))
	require.Equal(t, http.StatusOK, rec.Code)

	var saved carrierSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "UTSF-1", saved.ID)
	assert.Equal(t, "Acme Logistics", saved.Name)
	assert.Equal(t, carrier.SourceUTSF, saved.Source)
	assert.False(t, saved.Verified)
	assert.Equal(t, 2, saved.Pincodes)

	rec = do(s, http.MethodPatch, "/api/v1/carriers/UTSF-1/verify",
		strings.NewReader(`{"verified": true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var verified carrierSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.True(t, verified.Verified)

	rec = do(s, http.MethodPost, "/api/v1/carriers/reload?id=UTSF-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"carriers": 1}`, rec.Body.String())

	rec = do(s, http.MethodDelete, "/api/v1/carriers/UTSF-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(s, http.MethodDelete, "/api/v1/carriers/UTSF-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeUnknownCarrier, decodeError(t, rec).Code)
}

func TestServerAddCarrierRejectsBadPayload(t *testing.T) {
	admin := testAdmin(t)
	s := testServer(t, &fakeEngine{}, nil, admin)

	tests := map[string]string{
		"not json":    "version: 3.0",
		"no identity": `{"version": "3.0"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/v1/carriers", strings.NewReader(body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, codeBadRequest, decodeError(t, rec).Code)
		})
	}
	assert.Zero(t, admin.Len())
}

func TestServerVerifyBadBody(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, testAdmin(t))

	seed := do(s, http.MethodPost, "/api/v1/carriers", utsfBody(t, "UTSF-1", "Acme Logistics"))
	require.Equal(t, http.StatusOK, seed.Code)

	tests := map[string]string{
		"empty object": `{}`,
		"not json":     `verified`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPatch, "/api/v1/carriers/UTSF-1/verify", strings.NewReader(body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, codeBadRequest, decodeError(t, rec).Code)
		})
	}
}

func TestServerReloadAll(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, testAdmin(t))

	require.Equal(t, http.StatusOK,
		do(s, http.MethodPost, "/api/v1/carriers", utsfBody(t, "UTSF-1", "Acme Logistics")).Code)
	require.Equal(t, http.StatusOK,
		do(s, http.MethodPost, "/api/v1/carriers", utsfBody(t, "UTSF-2", "Blue Dart South")).Code)

	rec := do(s, http.MethodPost, "/api/v1/carriers/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"carriers": 2}`, rec.Body.String())
}

func TestServerReloadUnknownCarrier(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, testAdmin(t))

	rec := do(s, http.MethodPost, "/api/v1/carriers/reload?id=UTSF-GONE", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeUnknownCarrier, decodeError(t, rec).Code)
}

func TestServerOptionalSurfacesUnmounted(t *testing.T) {
	s := testServer(t, &fakeEngine{}, nil, nil)

	tests := map[string]struct {
		method string
		target string
	}{
		"nearest search needs a finder": {
			method: http.MethodGet,
			target: "/api/v1/nearest-serviceable?pincode=560001&fromPincode=110001",
		},
		"carrier upsert needs an admin": {method: http.MethodPost, target: "/api/v1/carriers"},
		"carrier delete needs an admin": {method: http.MethodDelete, target: "/api/v1/carriers/UTSF-1"},
		"reload needs an admin":         {method: http.MethodPost, target: "/api/v1/carriers/reload"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(s, tt.method, tt.target, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}
