package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/speedwagon-io/vmc/internal/buffer"
	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/sender"
)

const (
	defaultRetryInterval = 30 * time.Second
	pendingBatchSize     = 100
)

// resendBackoff paces the buffered resend loop: the configured interval while
// the broker accepts snapshots, growing towards MaxRetryInterval while it does not.
func resendBackoff(cfg *config.Config) *sender.Backoff {
	interval := cfg.Buffer.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return sender.NewBackoff(config.RetryConfig{
		InitialDelay: interval,
		MaxDelay:     cfg.Buffer.MaxRetryInterval,
		Multiplier:   cfg.Sender.Retry.Multiplier,
		Jitter:       cfg.Sender.Retry.Jitter,
	})
}

// Manager polls the device on a fixed interval, hands every snapshot to the
// sinks and publishes it through the sender. Unsent snapshots go to the buffer.
type Manager struct {
	log           *slog.Logger
	cfg           *config.Config
	device        *config.DeviceConfig
	collector     Collector
	sinks         []Sink
	sender        sender.Sender
	buffer        buffer.Buffer
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	bufferEnabled bool
	resend        *sender.Backoff
}

func NewManager(
	log *slog.Logger,
	cfg *config.Config,
	device *config.DeviceConfig,
	collector Collector,
	sinks []Sink,
	sender sender.Sender,
	buffer buffer.Buffer,
) *Manager {
	return &Manager{
		log:           log,
		cfg:           cfg,
		device:        device,
		collector:     collector,
		sinks:         sinks,
		sender:        sender,
		buffer:        buffer,
		stopCh:        make(chan struct{}),
		bufferEnabled: cfg.Buffer.Enabled && buffer != nil,
		resend:        resendBackoff(cfg),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("starting collector manager",
		slog.String("device_id", m.device.DeviceID),
		slog.Duration("interval", m.device.Polling.Interval),
		slog.Int("sensors", len(m.device.Sensors)),
		slog.Int("sinks", len(m.sinks)),
	)

	ticker := time.NewTicker(m.device.Polling.Interval)
	defer ticker.Stop()

	m.wg.Add(1)
	go m.retryBufferedData(ctx)

	m.collectAndSend(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("context cancelled, stopping manager")
			return
		case <-m.stopCh:
			m.log.Info("stop signal received, stopping manager")
			return
		case <-ticker.C:
			m.collectAndSend(ctx)
		}
	}
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	if err := m.collector.Close(); err != nil {
		m.log.Error("failed to close collector", sl.Err(err))
	}
}

func (m *Manager) collectAndSend(ctx context.Context) {
	collectCtx, cancel := context.WithTimeout(ctx, m.device.Polling.Timeout)
	data, err := m.collector.Collect(collectCtx)
	cancel()
	if err != nil {
		m.log.Error("failed to collect data",
			slog.String("device_id", m.device.DeviceID),
			sl.Err(err),
		)
		return
	}

	if len(data.Readings) == 0 {
		m.log.Debug("skipping empty poll", slog.String("device_id", data.DeviceID))
		return
	}

	snapshot := model.NewSnapshot(data.DeviceID, data.DeviceName, data.Readings)

	for _, sink := range m.sinks {
		if err := sink.Consume(ctx, snapshot); err != nil {
			m.log.Warn("sink failed to consume snapshot",
				slog.String("sink", sink.Name()),
				slog.String("snapshot_id", snapshot.ID),
				sl.Err(err),
			)
		}
	}

	if err := m.sender.Send(ctx, snapshot); err != nil {
		m.log.Error("failed to send snapshot",
			slog.String("snapshot_id", snapshot.ID),
			sl.Err(err),
		)

		if m.bufferEnabled {
			if bufErr := m.buffer.Store(ctx, snapshot); bufErr != nil {
				m.log.Error("failed to buffer snapshot",
					slog.String("snapshot_id", snapshot.ID),
					sl.Err(bufErr),
				)
			} else {
				m.log.Info("snapshot buffered for later retry",
					slog.String("snapshot_id", snapshot.ID),
				)
			}
		}
		return
	}

	m.log.Debug("snapshot sent", slog.String("snapshot_id", snapshot.ID))
}

func (m *Manager) retryBufferedData(ctx context.Context) {
	defer m.wg.Done()

	if !m.bufferEnabled {
		return
	}

	failures := 0
	timer := time.NewTimer(m.resend.Delay(failures))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-timer.C:
			if m.processBufferedData(ctx) {
				failures = 0
			} else {
				failures++
			}
			timer.Reset(m.resend.Delay(failures))
		}
	}
}

// processBufferedData resends pending snapshots in order and stops at the
// first failure so the rest keep their place. It reports whether the pass
// went through without a send error.
func (m *Manager) processBufferedData(ctx context.Context) bool {
	ok := true

	pending, err := m.buffer.GetPending(ctx, pendingBatchSize)
	if err != nil {
		m.log.Error("failed to get pending snapshots from buffer", sl.Err(err))
		return false
	}

	if len(pending) > 0 {
		m.log.Info("processing buffered snapshots", slog.Int("count", len(pending)))

		sent, err := m.sender.SendBatch(ctx, pending)
		sent = min(sent, len(pending))
		if err != nil {
			ok = false
			m.log.Debug("buffered resend interrupted",
				slog.Int("sent", sent),
				slog.Int("pending", len(pending)),
				sl.Err(err),
			)
		}

		if sent > 0 {
			ids := make([]string, 0, sent)
			for _, snapshot := range pending[:sent] {
				ids = append(ids, snapshot.ID)
			}
			if err := m.buffer.MarkSent(ctx, ids); err != nil {
				m.log.Error("failed to mark buffered snapshots as sent", sl.Err(err))
			} else {
				m.log.Info("buffered snapshots sent", slog.Int("count", sent))
			}
		}
	}

	if err := m.buffer.Cleanup(ctx, m.cfg.Buffer.MaxAge); err != nil {
		m.log.Error("failed to cleanup old buffered snapshots", sl.Err(err))
	}

	return ok
}
