// Package guard screens telemetry submissions before they reach the stores.
// Checks run in a fixed order and the first failure wins; the honeypot is
// the one exception, producing a fake success instead of a rejection.
package guard

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/ratelimit"
)

// Result is an accepted submission. HoneypotHit marks a bot that should get
// a fake success response with no state change.
type Result struct {
	Report      api.FlashReport
	HoneypotHit bool
}

// Rejection describes a refused submission.
type Rejection struct {
	Status  int
	Message string
}

// Pipeline applies the ordered submission checks.
type Pipeline struct {
	server  config.Server
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New builds the pipeline. The limiter may be nil when rate limiting is
// disabled.
func New(server config.Server, limiter *ratelimit.Limiter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		server:  server,
		limiter: limiter,
		logger:  logging.NewComponentLogger(logger, "guard"),
	}
}

// Evaluate runs every enabled check against the request. Exactly one of the
// return values is non-nil.
func (p *Pipeline) Evaluate(r *http.Request) (*Result, *Rejection) {
	if r.Method != http.MethodPost {
		return nil, &Rejection{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"}
	}

	if p.server.Guards.Marker && !p.markerPresent() {
		return nil, &Rejection{Status: http.StatusServiceUnavailable, Message: "Telemetry is disabled"}
	}

	addr := clientAddr(r)
	if p.server.Guards.RateLimit && p.limiter != nil && !p.limiter.Allow(addr) {
		return nil, &Rejection{Status: http.StatusTooManyRequests, Message: "Too many requests"}
	}

	body := r.Body
	if p.server.Guards.BodyLimit && p.server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(nil, r.Body, p.server.MaxBodyBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &Rejection{Status: http.StatusRequestEntityTooLarge, Message: "Request too large"}
		}
		return nil, &Rejection{Status: http.StatusBadRequest, Message: "Unreadable request body"}
	}

	var report api.FlashReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, &Rejection{Status: http.StatusBadRequest, Message: "Invalid JSON"}
	}

	if p.server.Guards.Honeypot && (report.Website != "" || report.Email != "") {
		p.logger.Info("honeypot tripped", logging.String("client", addr))
		return &Result{HoneypotHit: true}, nil
	}

	if p.server.Guards.Origin {
		if rej := p.checkOrigin(r, addr); rej != nil {
			return nil, rej
		}
	}

	sanitized, rej := sanitizeReport(report)
	if rej != nil {
		return nil, rej
	}
	return &Result{Report: sanitized}, nil
}

// markerPresent reports whether the availability marker exists and is
// non-empty. An empty marker counts as out of service.
func (p *Pipeline) markerPresent() bool {
	marker := strings.TrimSpace(p.server.MarkerFile)
	if marker == "" {
		return true
	}
	info, err := os.Stat(marker)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// checkOrigin rejects requests whose Origin host (Referer when no Origin is
// sent) is outside the allowlist. A host passes when it equals an allowlist
// entry's host or is a subdomain of it. Requests carrying neither header
// pass: non-browser clients send none.
func (p *Pipeline) checkOrigin(r *http.Request, addr string) *Rejection {
	if len(p.server.AllowedOrigins) == 0 {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		header = strings.TrimSpace(r.Header.Get("Referer"))
	}
	if header == "" {
		p.logger.Debug("submission without origin or referer header", logging.String("client", addr))
		return nil
	}
	host := originHost(header)
	if host != "" {
		for _, allowed := range p.server.AllowedOrigins {
			if hostMatches(host, originHost(allowed)) {
				return nil
			}
		}
	}
	return &Rejection{Status: http.StatusForbidden, Message: "Origin not allowed"}
}

// originHost extracts the lowercase hostname from a full origin/URL or a
// bare host[:port] allowlist entry.
func originHost(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if strings.Contains(value, "://") {
		u, err := url.Parse(value)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return host
	}
	return value
}

func hostMatches(host, allowed string) bool {
	if allowed == "" {
		return false
	}
	return host == allowed || strings.HasSuffix(host, "."+allowed)
}

// clientAddr prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if addr := strings.TrimSpace(parts[0]); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
