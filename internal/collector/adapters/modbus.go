package adapters

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"

	"github.com/speedwagon-io/vmc/internal/collector"
	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/conversion"
)

type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

type ModbusAdapter struct {
	log     *slog.Logger
	device  *config.DeviceConfig
	handler *modbus.TCPClientHandler
	client  registerReader
	now     func() time.Time
}

func NewModbusAdapter(log *slog.Logger, device *config.DeviceConfig) *ModbusAdapter {
	handler := modbus.NewTCPClientHandler(device.Connection.Address)
	handler.Timeout = device.Connection.Timeout
	handler.IdleTimeout = device.Connection.IdleTimeout
	handler.SlaveId = device.Connection.SlaveID

	return &ModbusAdapter{
		log:     log,
		device:  device,
		handler: handler,
		client:  modbus.NewClient(handler),
		now:     time.Now,
	}
}

func newModbusAdapterWithReader(log *slog.Logger, device *config.DeviceConfig, reader registerReader) *ModbusAdapter {
	return &ModbusAdapter{
		log:    log,
		device: device,
		client: reader,
		now:    time.Now,
	}
}

func (a *ModbusAdapter) Name() string {
	return "modbus"
}

func (a *ModbusAdapter) Close() error {
	if a.handler == nil {
		return nil
	}
	return a.handler.Close()
}

func (a *ModbusAdapter) Collect(ctx context.Context) (*collector.CollectedData, error) {
	start, quantity := registerWindow(a.device.Sensors)

	registers, err := a.readRegisters(ctx, start, quantity)
	if err != nil {
		return nil, err
	}

	a.log.Debug("modbus registers read",
		slog.Int("start", int(start)),
		slog.Int("quantity", int(quantity)),
		slog.Any("registers", registers),
	)

	raw := make([]uint16, len(a.device.Sensors))
	for i, s := range a.device.Sensors {
		raw[i] = registers[s.Address-start]
	}

	return &collector.CollectedData{
		DeviceID:   a.device.DeviceID,
		DeviceName: a.device.DeviceName,
		Readings:   conversion.Convert(raw, a.device.Sensors, a.now().UTC()),
	}, nil
}

// Ping reads the first configured register.
func (a *ModbusAdapter) Ping(ctx context.Context) error {
	start, _ := registerWindow(a.device.Sensors)
	_, err := a.readRegisters(ctx, start, 1)
	return err
}

func (a *ModbusAdapter) readRegisters(ctx context.Context, start, quantity uint16) ([]uint16, error) {
	type result struct {
		data []byte
		err  error
	}

	// the modbus client is not context aware
	done := make(chan result, 1)
	go func() {
		data, err := a.client.ReadHoldingRegisters(start, quantity)
		done <- result{data: data, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to read holding registers: %w", ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("failed to read holding registers: %w", res.err)
	}

	return decodeRegisters(res.data, quantity)
}

// registerWindow returns the smallest contiguous range covering every sensor.
// DeviceConfig.Validate keeps the range within config.MaxRegisterWindow.
func registerWindow(sensors []config.SensorConfig) (start, quantity uint16) {
	if len(sensors) == 0 {
		return 0, 0
	}

	lo, hi := sensors[0].Address, sensors[0].Address
	for _, s := range sensors[1:] {
		lo = min(lo, s.Address)
		hi = max(hi, s.Address)
	}

	return lo, hi - lo + 1
}

func decodeRegisters(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) != int(quantity)*2 {
		return nil, fmt.Errorf("unexpected register payload length %d, want %d", len(data), int(quantity)*2)
	}

	registers := make([]uint16, quantity)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}

	return registers, nil
}
