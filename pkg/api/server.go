// Package api exposes quoting, nearest-serviceable search and carrier
// administration over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/nearest"
	"github.com/shipkaro/freightrate/pkg/quote"
	"github.com/shipkaro/freightrate/pkg/registry"
)

const subsystem = "api"

// Error codes for failures that happen before or around the quote pipeline.
// The pipeline's own codes pass through unchanged.
const (
	codeBadRequest     = "BAD_REQUEST"
	codeUnknownCarrier = "UNKNOWN_CARRIER"
	codeNotFileBacked  = "NOT_FILE_BACKED"
	codeNoServiceable  = "NO_SERVICEABLE_PINCODE"
	codeInternal       = "INTERNAL_ERROR"
)

type QuoteEngine interface {
	Quote(ctx context.Context, req *quote.Request) (*quote.Response, error)
}

type Finder interface {
	Find(ctx context.Context, origin, dest geo.Pincode, ownerID string) (*nearest.Result, error)
}

// CarrierAdmin is the registry surface behind the carrier endpoints.
type CarrierAdmin interface {
	Add(ctx context.Context, f *carrier.File, editorID, reason string) (*registry.Entry, error)
	Remove(ctx context.Context, id string) error
	Reload(ctx context.Context) error
	ReloadOne(ctx context.Context, id string) error
	SetVerified(ctx context.Context, id string, verified bool, editorID string) (*registry.Entry, error)
	Len() int
}

type Config struct {
	Logger *slog.Logger
	Engine QuoteEngine

	// Finder and Admin are optional; their endpoints are not mounted when
	// nil.
	Finder Finder
	Admin  CarrierAdmin
}

// Server carries the handler dependencies. Safe for concurrent use.
type Server struct {
	logger *slog.Logger
	engine QuoteEngine
	finder Finder
	admin  CarrierAdmin
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("api: quote engine is required")
	}
	return &Server{
		logger: cfg.Logger.With("subsystem", subsystem),
		engine: cfg.Engine,
		finder: cfg.Finder,
		admin:  cfg.Admin,
	}, nil
}

// Handler mounts every endpoint the server serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/v1/calculate", s.handleCalculate)
	if s.finder != nil {
		mux.HandleFunc("GET /api/v1/nearest-serviceable", s.handleNearest)
	}
	if s.admin != nil {
		mux.HandleFunc("POST /api/v1/carriers", s.handleAddCarrier)
		mux.HandleFunc("DELETE /api/v1/carriers/{id}", s.handleRemoveCarrier)
		mux.HandleFunc("POST /api/v1/carriers/reload", s.handleReload)
		mux.HandleFunc("PATCH /api/v1/carriers/{id}/verify", s.handleVerify)
	}
	return mux
}

// errorBody is the wire shape every failure uses.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Message: message, Code: code})
}

// writeQuoteError maps a pipeline error onto a status: the caller's fault is
// a 400, an upstream failure a 500. RequestError marshals to the standard
// error body on its own.
func writeQuoteError(w http.ResponseWriter, rerr *quote.RequestError) {
	status := http.StatusInternalServerError
	if rerr.UserError() {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, rerr)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req quote.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body is not valid JSON")
		return
	}

	resp, err := s.engine.Quote(r.Context(), &req)
	if err != nil {
		var rerr *quote.RequestError
		if errors.As(err, &rerr) {
			writeQuoteError(w, rerr)
			return
		}
		s.logger.LogAttrs(r.Context(), slog.LevelError, "quote failed",
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "quote failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dest, err := parsePin(q.Get("pincode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, quote.CodePincodeNotFound, "pincode: "+err.Error())
		return
	}
	origin, err := parsePin(q.Get("fromPincode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, quote.CodePincodeNotFound, "fromPincode: "+err.Error())
		return
	}

	res, err := s.finder.Find(r.Context(), origin, dest, strings.TrimSpace(q.Get("customerId")))
	if errors.Is(err, nearest.ErrNoServiceableCandidate) {
		writeError(w, http.StatusNotFound, codeNoServiceable, "no serviceable pincode near "+dest.String())
		return
	}
	if err != nil {
		s.logger.LogAttrs(r.Context(), slog.LevelError, "nearest search failed",
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "nearest search failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parsePin(raw string) (geo.Pincode, error) {
	pin, err := geo.ParsePincode(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !pin.IsValid() {
		return 0, fmt.Errorf("%d is not a deliverable pincode", pin)
	}
	return pin, nil
}

// carrierSummary is the admin view of a saved carrier.
type carrierSummary struct {
	ID       string `json:"id"`
	Name     string `json:"companyName"`
	Source   string `json:"source"`
	Verified bool   `json:"isVerified"`
	Pincodes int    `json:"pincodes"`
}

func summarize(e *registry.Entry) carrierSummary {
	return carrierSummary{
		ID:       e.ID(),
		Name:     e.Name(),
		Source:   e.Source(),
		Verified: e.Verified(),
		Pincodes: e.CoverageCount(),
	}
}

func editorFrom(r *http.Request) string {
	if editor := strings.TrimSpace(r.URL.Query().Get("editorId")); editor != "" {
		return editor
	}
	return "api"
}

func (s *Server) handleAddCarrier(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "reading request body: "+err.Error())
		return
	}
	f, err := carrier.ParseUTSF(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	entry, err := s.admin.Add(r.Context(), f, editorFrom(r), strings.TrimSpace(r.URL.Query().Get("reason")))
	if err != nil {
		s.logger.LogAttrs(r.Context(), slog.LevelError, "carrier save failed",
			slog.String("id", f.Meta.ID),
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "saving carrier failed")
		return
	}
	writeJSON(w, http.StatusOK, summarize(entry))
}

func (s *Server) handleRemoveCarrier(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.admin.Remove(r.Context(), id)
	switch {
	case errors.Is(err, registry.ErrUnknownCarrier):
		writeError(w, http.StatusNotFound, codeUnknownCarrier, "no carrier "+id)
	case err != nil:
		s.logger.LogAttrs(r.Context(), slog.LevelError, "carrier remove failed",
			slog.String("id", id),
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "removing carrier failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		err := s.admin.ReloadOne(r.Context(), id)
		switch {
		case errors.Is(err, registry.ErrUnknownCarrier):
			writeError(w, http.StatusNotFound, codeUnknownCarrier, "no carrier "+id)
			return
		case errors.Is(err, registry.ErrNotFileBacked):
			writeError(w, http.StatusBadRequest, codeNotFileBacked,
				"carrier "+id+" has no backing file; reload the full registry")
			return
		case err != nil:
			s.logger.LogAttrs(r.Context(), slog.LevelError, "carrier reload failed",
				slog.String("id", id),
				slog.String("err", err.Error()))
			writeError(w, http.StatusInternalServerError, codeInternal, "reloading carrier failed")
			return
		}
	} else if err := s.admin.Reload(r.Context()); err != nil {
		s.logger.LogAttrs(r.Context(), slog.LevelError, "registry reload failed",
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "reloading carriers failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"carriers": s.admin.Len()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Verified *bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Verified == nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, `body must carry {"verified": true|false}`)
		return
	}

	entry, err := s.admin.SetVerified(r.Context(), id, *body.Verified, editorFrom(r))
	switch {
	case errors.Is(err, registry.ErrUnknownCarrier):
		writeError(w, http.StatusNotFound, codeUnknownCarrier, "no carrier "+id)
	case err != nil:
		s.logger.LogAttrs(r.Context(), slog.LevelError, "verification update failed",
			slog.String("id", id),
			slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "updating verification failed")
	default:
		writeJSON(w, http.StatusOK, summarize(entry))
	}
}
