package httpserver

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
)

func (s *Server) redirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// e.g., for a request to "/100680ad", this will be "100680ad".
		shortCode := shortCodeParam(r)

		originalURL, err := s.svc.Resolve(r.Context(), shortCode, clientIP(r))
		if err != nil {
			if errors.Is(err, datastore.ErrURLNotFound) {
				writeText(w, http.StatusNotFound, msgNotFound)
				return
			}

			s.logger.Error("redirectHandler: failed to retrieve URL", "code", shortCode, "error", err)
			writeText(w, http.StatusInternalServerError, msgInternal)
			return
		}

		http.Redirect(w, r, originalURL, http.StatusMovedPermanently)
	}
}

func shortCodeParam(r *http.Request) string {
	return chi.URLParam(r, "short_code")
}

// clientIP strips the port from the remote address. When RealIP rewrote it
// from proxy headers there is no port and the value is used as is.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// origin is the scheme and host the request was addressed to, with a
// trailing slash, e.g. "http://localhost:8080/".
func (s *Server) origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if s.cfg.TrustProxyHeaders {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}
	}
	return scheme + "://" + r.Host + "/"
}
