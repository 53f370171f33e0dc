package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/ndajr/urlshortener-analytics/internal/shortener"
)

const (
	msgWelcome        = "Welcome to the URL Shortener Service"
	msgMissingURL     = "Missing original_url parameter"
	msgInvalidJSON    = "Invalid JSON payload"
	msgNotFound       = "Short URL not found"
	msgNoAnalytics    = "No analytics data found for the given short code"
	msgInternal       = "Internal Server Error"
	msgCodesExhausted = "Unable to allocate a short code, please try again"
)

type shortenRequest struct {
	OriginalURL string `json:"original_url" validate:"required"`
}

type shortenResponse struct {
	ShortURL string `json:"short_url"`
}

type visitResponse struct {
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ip_address"`
}

func (s *Server) indexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, msgWelcome)
	}
}

func (s *Server) shortenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shortenRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeText(w, http.StatusBadRequest, msgInvalidJSON)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeText(w, http.StatusBadRequest, msgMissingURL)
			return
		}

		out, err := s.svc.Shorten(r.Context(), req.OriginalURL)
		if err != nil {
			var verr *shortener.ValidationError
			switch {
			case errors.As(err, &verr):
				writeText(w, http.StatusBadRequest, verr.Message)
			case errors.Is(err, core.ErrCodeSpaceExhausted):
				s.logger.Warn("shortenHandler: no free short code", "error", err)
				writeText(w, http.StatusServiceUnavailable, msgCodesExhausted)
			default:
				s.logger.Error("shortenHandler: failed to shorten url", "error", err)
				writeText(w, http.StatusInternalServerError, msgInternal)
			}
			return
		}

		s.writeJSON(w, http.StatusCreated, shortenResponse{ShortURL: s.origin(r) + out.ShortCode})
	}
}

func (s *Server) analyticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := shortCodeParam(r)

		visits, err := s.svc.Analytics(r.Context(), shortCode)
		if err != nil {
			s.logger.Error("analyticsHandler: failed to query analytics", "code", shortCode, "error", err)
			writeText(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if len(visits) == 0 {
			writeText(w, http.StatusNotFound, msgNoAnalytics)
			return
		}

		out := make([]visitResponse, 0, len(visits))
		for _, v := range visits {
			out = append(out, visitResponse{
				Timestamp: v.Timestamp.UTC().Format(core.TimestampLayout),
				IPAddress: v.IPAddress,
			})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write json response", "error", err)
	}
}

// writeText writes msg verbatim, without the trailing newline http.Error adds.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
