package tellie

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePort is an in-memory Port for tests.
//
// Reads drain an internal buffer and return immediately with whatever is queued,
// mirroring a serial read whose timeout expires on a silent line. Each Write is
// captured, and may trigger a scripted device response that becomes readable.
type fakePort struct {
	mu sync.Mutex

	readBuf bytes.Buffer
	writes  [][]byte
	rtsLog  []bool

	// responses are appended to readBuf one per Write call, simulating the
	// device echoing after each command unit.
	responses [][]byte

	readTimeout time.Duration
	closed      bool
	failWrites  bool
	failReads   bool
}

var _ Port = (*fakePort)(nil)

func newFakePort() *fakePort {
	return &fakePort{}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failReads {
		return 0, errors.New("simulated read failure")
	}
	if p.readBuf.Len() == 0 {
		return 0, nil // timeout expired, line silent
	}

	return p.readBuf.Read(buf)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failWrites {
		return 0, errors.New("simulated write failure")
	}

	w := make([]byte, len(b))
	copy(w, b)
	p.writes = append(p.writes, w)

	if len(p.responses) > 0 {
		p.readBuf.Write(p.responses[0])
		p.responses = p.responses[1:]
	}

	return len(b), nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readTimeout = t

	return nil
}

func (p *fakePort) SetRTS(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rtsLog = append(p.rtsLog, level)

	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// queueRead makes data readable immediately, as if the device had already sent it.
func (p *fakePort) queueRead(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuf.Write(data)
}

// respond schedules device responses, one per subsequent Write call.
func (p *fakePort) respond(responses ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.responses = append(p.responses, responses...)
}

// writeCount returns the number of Write calls seen so far.
func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.writes)
}

// writtenBytes returns all written bytes joined in order.
func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var joined []byte
	for _, w := range p.writes {
		joined = append(joined, w...)
	}

	return joined
}

// lastWrites returns the last n Write payloads.
func (p *fakePort) lastWrites(n int) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.writes) {
		n = len(p.writes)
	}

	return p.writes[len(p.writes)-n:]
}

// newTestConfig creates a ConnectionConfig with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...ConnOption) *ConnectionConfig {
	t.Helper()

	defaults := []ConnOption{
		WithReadTimeout(MinReadTimeout),
		WithRecoveryPause(time.Millisecond),
	}

	cfg, err := NewConnectionConfig("/dev/ttyTEST0", append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestDevice creates an opened Device backed by a fakePort, bypassing the
// multi-second reset pulse of Open.
func newTestDevice(t *testing.T, opts ...ConnOption) (*Device, *fakePort) {
	t.Helper()

	port := newFakePort()
	cfg := newTestConfig(t, append(opts, WithPort(port))...)

	dev, err := New(cfg)
	if err != nil {
		t.Fatalf("newTestDevice: %v", err)
	}

	dev.port = port
	dev.tp = newTransport(port, cfg, cfg.logger, &dev.metrics)
	dev.opened = true

	return dev, port
}

// newTestTransport creates a transport backed by a fakePort.
func newTestTransport(t *testing.T, opts ...ConnOption) (*transport, *fakePort) {
	t.Helper()

	port := newFakePort()
	cfg := newTestConfig(t, opts...)

	var metrics SessionMetrics

	return newTransport(port, cfg, cfg.logger, &metrics), port
}

// fixedChannels is a static ChannelContext for tests.
type fixedChannels []byte

func (f fixedChannels) Channels() []byte { return f }
