package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// healthQoS is used for health messages.
const healthQoS = 1

// StatsSource provides engine statistics.
type StatsSource interface {
	Stats() mixer.Stats
}

// StatsWriter records engine counters. WriteStats must not block.
type StatsWriter interface {
	WriteStats(fields map[string]any, at time.Time)
}

// HealthReporter publishes the service health at a fixed interval.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	topics    mqtt.Topics
	publisher Publisher
	stats     StatsSource
	writer    StatsWriter
	logger    Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval defaults to DefaultHealthInterval.
	Interval time.Duration

	Topics mqtt.Topics

	// Publisher may be nil when MQTT is disabled.
	Publisher Publisher

	Stats StatsSource

	// Writer may be nil when InfluxDB is disabled.
	Writer StatsWriter

	Logger Logger
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		topics:    cfg.Topics,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		writer:    cfg.Writer,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start reports once immediately, then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes an offline status. Safe to call more
// than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if h.publisher == nil || !h.publisher.IsConnected() {
			return
		}
		if err := h.publish(NewOfflineMessage(h.version, h.startTime)); err != nil {
			h.logError("failed to publish offline health", err)
		}
	})
}

// ReportNow publishes the current status and records engine counters.
func (h *HealthReporter) ReportNow() error {
	stats := h.stats.Stats()
	status, reason := h.determineStatus(stats)

	if h.writer != nil {
		h.writer.WriteStats(statsFields(stats), time.Now())
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}

	msg := NewHealthMessage(h.version, status, stats, h.startTime)
	msg.Reason = reason
	return h.publish(msg)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.ReportNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.ReportNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus ranks the mixer link above the broker: without the
// mixer nothing works, without MQTT only the relay is missing.
func (h *HealthReporter) determineStatus(stats mixer.Stats) (HealthStatus, string) {
	if !stats.Connected {
		return HealthUnhealthy, "mixer disconnected"
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(), payload, healthQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
