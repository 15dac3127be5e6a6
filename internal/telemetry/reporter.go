// Package telemetry submits flash outcomes to a kilnd endpoint. Reporting is
// strictly best-effort: a dead or misconfigured endpoint never affects the
// flashing session.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/logging"
)

// Reporter delivers one flash outcome. Implementations swallow transport
// failures.
type Reporter interface {
	Report(ctx context.Context, report api.FlashReport)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, api.FlashReport) {}

// NewNop returns a reporter that discards everything.
func NewNop() Reporter {
	return nopReporter{}
}

// New builds a reporter from configuration. Disabled telemetry or a blank
// endpoint yields the noop reporter.
func New(cfg config.Telemetry, logger *slog.Logger) Reporter {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if !cfg.Enabled || endpoint == "" {
		return NewNop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpReporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(logger, "telemetry"),
	}
}

type httpReporter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func (r *httpReporter) Report(ctx context.Context, report api.FlashReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		r.logger.Debug("telemetry encode failed", logging.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/flash-log", bytes.NewReader(payload))
	if err != nil {
		r.logger.Debug("telemetry request build failed", logging.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("telemetry submission failed", logging.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("telemetry submission rejected",
			logging.Int("status", resp.StatusCode),
			logging.String(logging.FieldProject, report.Project))
		return
	}
	r.logger.Debug("telemetry submitted", logging.String(logging.FieldProject, report.Project))
}
