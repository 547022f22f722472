// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package livesource

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/medialogd/medialogd/internal/config"
	"github.com/medialogd/medialogd/internal/logging"
	"github.com/medialogd/medialogd/internal/metrics"
	"github.com/medialogd/medialogd/internal/models"
	"github.com/medialogd/medialogd/internal/parse"
	"github.com/medialogd/medialogd/internal/progress"
)

const defaultPollInterval = 30 * time.Second

// consecutiveFailureLimit is how many failed polls in a row move the
// source into the error state. Polling continues; the next success
// recovers.
const consecutiveFailureLimit = 3

// Poller periodically fetches a server's activity log and emits new
// records as live entries. A circuit breaker around the API keeps a dead
// server from being hammered, and a rate limiter bounds request rate
// regardless of configuration.
type Poller struct {
	cfg     config.LiveSourceConfig
	client  *Client
	cb      *gobreaker.CircuitBreaker[[]ActivityEntry]
	limiter *rate.Limiter
	agg     *progress.Aggregator
	emit    func(*models.LogEntry)

	lastDate time.Time
	lastID   int64
	failures int
}

// NewPoller creates a poller for one configured live source.
func NewPoller(cfg config.LiveSourceConfig, agg *progress.Aggregator, emit func(*models.LogEntry)) *Poller {
	cbName := "live:" + cfg.ID
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]ActivityEntry](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("source_id", cfg.ID).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("live source circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Poller{
		cfg:     cfg,
		client:  NewClient(cfg.URL, cfg.APIKey),
		cb:      cb,
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		agg:     agg,
		emit:    emit,
	}
}

// String names the poller for supervisor logs.
func (p *Poller) String() string {
	return "livesource:" + p.cfg.ID
}

// Serve polls until the context is canceled. Implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	p.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	entries, err := p.cb.Execute(func() ([]ActivityEntry, error) {
		return p.client.ActivityLog(ctx, p.lastDate)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.LiveAPIErrors.WithLabelValues(p.cfg.ID).Inc()
		p.failures++
		logging.Warn().Err(err).Str("source_id", p.cfg.ID).Int("failures", p.failures).Msg("activity poll failed")
		if p.failures >= consecutiveFailureLimit {
			p.publishStatus(models.StatusError, err.Error())
		}
		return
	}

	if p.failures > 0 {
		logging.Info().Str("source_id", p.cfg.ID).Msg("live source recovered")
	}
	p.failures = 0

	for _, a := range entries {
		if p.seen(a) {
			continue
		}
		p.remember(a)
		e := p.toEntry(a)
		metrics.EntriesIngested.WithLabelValues(p.cfg.ID, string(models.MethodLiveAPI)).Inc()
		p.emit(e)
	}
	p.publishStatus(models.StatusWatching, "")
}

// seen filters already-emitted records: the poll window overlaps the
// previous one so boundary entries arrive twice.
func (p *Poller) seen(a ActivityEntry) bool {
	if a.Date.After(p.lastDate) {
		return false
	}
	return a.Date.Before(p.lastDate) || a.ID <= p.lastID
}

func (p *Poller) remember(a ActivityEntry) {
	if a.Date.After(p.lastDate) {
		p.lastDate = a.Date
		p.lastID = a.ID
	} else if a.Date.Equal(p.lastDate) && a.ID > p.lastID {
		p.lastID = a.ID
	}
}

// toEntry maps one activity record onto the canonical shape.
func (p *Poller) toEntry(a ActivityEntry) *models.LogEntry {
	msg := a.Name
	if a.ShortOverview != "" {
		msg += ": " + a.ShortOverview
	}

	level := models.NormalizeLevel(a.Severity)
	level = parse.BoostLevel(level, msg)

	var correlation map[string]string
	if a.UserID != "" {
		correlation = map[string]string{models.CorrelationUserID: a.UserID}
	}

	e := &models.LogEntry{
		Timestamp:   a.Date,
		Level:       level,
		Message:     msg,
		Source:      a.Type,
		Raw:         msg,
		Correlation: correlation,
		SourceID:    p.cfg.ID,
		Method:      models.MethodLiveAPI,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
		e.TimestampInferred = true
	}
	return e
}

func (p *Poller) publishStatus(status models.SourceStatus, errMsg string) {
	p.agg.Update(&models.SourceProgress{
		SourceID:  p.cfg.ID,
		Status:    status,
		Error:     errMsg,
		UpdatedAt: time.Now(),
	})
	metrics.SetSourceStatus(p.cfg.ID, string(status))
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
