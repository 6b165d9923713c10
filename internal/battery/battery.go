// Package battery reports the charge of the frame's battery so the scene
// controls can show it next to the event state.
package battery

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "cardscene/internal/log"
)

// DefaultAddr is the PiSugar3 I2C address.
const DefaultAddr = 0x57

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status is the battery level in percent and, when known, millivolts.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader obtains battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// mockReader drains slowly from a random starting level so development
// builds show a plausible, changing value.
type mockReader struct {
	mu      sync.Mutex
	percent int
}

// NewMockReader returns a Reader for machines without a battery controller.
func NewMockReader() Reader {
	return &mockReader{percent: 60 + rand.Intn(41)}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.percent > 20 && rand.Intn(4) == 0 {
		m.percent--
	}
	return Status{Percent: m.percent}, nil
}

type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader returns a Reader for a PiSugar3 on busName ("" picks the
// first bus). Nothing is opened until Read.
func NewI2CReader(busName string, addr uint16) Reader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// New picks the reader for the running host. With enabled set on Linux it
// probes the I2C controller once and keeps it if the probe succeeds;
// otherwise it falls back to the mock.
func New(enabled bool, busName string, addr uint16) Reader {
	if !enabled || runtime.GOOS != "linux" {
		return NewMockReader()
	}
	r := NewI2CReader(busName, addr)
	if _, err := r.Read(context.Background()); err != nil {
		appLog.Warn("battery controller not reachable, using mock", "bus", busName, "addr", addr, "reason", err)
		return NewMockReader()
	}
	return r
}

// Cached wraps a Reader and reuses the last good Status for ttl.
type Cached struct {
	reader Reader
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	status    Status
	updatedAt time.Time
	valid     bool
}

// NewCached wraps r. now may be nil to use time.Now.
func NewCached(r Reader, ttl time.Duration, now func() time.Time) *Cached {
	if now == nil {
		now = time.Now
	}
	return &Cached{reader: r, ttl: ttl, now: now}
}

// Read returns the cached status while it is fresh and reads through
// otherwise.
func (c *Cached) Read(ctx context.Context) (Status, error) {
	now := c.now()

	c.mu.RLock()
	if c.valid && now.Sub(c.updatedAt) < c.ttl {
		st := c.status
		c.mu.RUnlock()
		return st, nil
	}
	c.mu.RUnlock()

	st, err := c.reader.Read(ctx)
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	c.status = st
	c.updatedAt = now
	c.valid = true
	c.mu.Unlock()
	return st, nil
}
