package sender

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
)

var ErrNotConnected = errors.New("mqtt client is not connected")

type Sender interface {
	Send(ctx context.Context, snapshot *model.Snapshot) error
	// SendBatch sends in order and stops at the first failure. It returns
	// how many snapshots went out before that.
	SendBatch(ctx context.Context, snapshots []*model.Snapshot) (int, error)
	Health(ctx context.Context) error
	Close() error
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

type MQTTSender struct {
	log     *slog.Logger
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
	retry   config.RetryConfig
	backoff *Backoff
}

func NewMQTTSender(log *slog.Logger, cfg *config.SenderConfig) (*MQTTSender, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.Timeout)

	if strings.HasPrefix(cfg.Broker, "ssl://") || strings.HasPrefix(cfg.Broker, "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", sl.Err(err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("reconnecting to mqtt broker", slog.String("broker", cfg.Broker))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("connected to mqtt broker", slog.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		// SetConnectRetry keeps trying in the background
		log.Warn("mqtt broker not reachable yet, continuing", slog.String("broker", cfg.Broker))
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	return newMQTTSender(log, client, cfg), nil
}

func newMQTTSender(log *slog.Logger, client publisher, cfg *config.SenderConfig) *MQTTSender {
	return &MQTTSender{
		log:     log,
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		backoff: NewBackoff(cfg.Retry),
	}
}

func (s *MQTTSender) Send(ctx context.Context, snapshot *model.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.sendWithRetry(ctx, data)
}

func (s *MQTTSender) SendBatch(ctx context.Context, snapshots []*model.Snapshot) (int, error) {
	return sendEach(ctx, s, snapshots)
}

func sendEach(ctx context.Context, s Sender, snapshots []*model.Snapshot) (int, error) {
	for i, snapshot := range snapshots {
		if err := s.Send(ctx, snapshot); err != nil {
			return i, fmt.Errorf("snapshot %s: %w", snapshot.ID, err)
		}
	}
	return len(snapshots), nil
}

func (s *MQTTSender) sendWithRetry(ctx context.Context, data []byte) error {
	attempts := max(s.retry.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.publish(ctx, data)
		if err == nil {
			return nil
		}

		lastErr = err
		s.log.Warn("publish attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			sl.Err(err),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff.Delay(attempt - 1)):
			}
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

func (s *MQTTSender) publish(ctx context.Context, data []byte) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := s.client.Publish(s.topic, s.qos, false, data)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out after %s", s.topic, s.timeout)
	case <-token.Done():
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *MQTTSender) Health(ctx context.Context) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

func (s *MQTTSender) Close() error {
	s.client.Disconnect(250)
	return nil
}

// LogSender logs snapshots instead of publishing them (dry-run)
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, snapshot *model.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.log.Info("SEND",
		slog.String("snapshot_id", snapshot.ID),
		slog.String("device_id", snapshot.DeviceID),
		slog.Int("readings_count", len(snapshot.Readings)),
		slog.String("payload", string(data)),
	)

	return nil
}

func (s *LogSender) SendBatch(ctx context.Context, snapshots []*model.Snapshot) (int, error) {
	return sendEach(ctx, s, snapshots)
}

func (s *LogSender) Health(ctx context.Context) error {
	return nil
}

func (s *LogSender) Close() error {
	return nil
}
