package collector

import (
	"context"

	"github.com/speedwagon-io/vmc/internal/model"
)

type CollectedData struct {
	DeviceID   string
	DeviceName string
	Readings   []model.Reading
}

// Collector reads the configured sensors of a device.
type Collector interface {
	Collect(ctx context.Context) (*CollectedData, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Sink receives every snapshot produced by the manager.
type Sink interface {
	Name() string
	Consume(ctx context.Context, snapshot *model.Snapshot) error
}
