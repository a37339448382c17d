// Package broker implements the access-broker core: the serialization
// point between an arbitrary number of concurrent client connections and
// the single underlying TPM transport. It owns exclusive access to the
// transport, performs one-shot startup/capability probes, transmits raw
// command buffers, receives raw response buffers, and exposes context
// (transient object / session) lifecycle operations.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abrmd-go/tabrmd/internal/connref"
	"github.com/abrmd-go/tabrmd/internal/logger"
	"github.com/abrmd-go/tabrmd/internal/metrics"
	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
	"github.com/abrmd-go/tabrmd/internal/tpm2sapi"
	"github.com/abrmd-go/tabrmd/internal/transport"
)

type state int32

const (
	stateCreated state = iota
	stateInitialized
	stateDisposed
)

// Command is an opaque request submitted to the broker. The broker does
// not parse Bytes beyond reading its header via tpm2header.
type Command struct {
	Bytes      []byte
	Size       uint32
	Connection *connref.Ref
	Attributes CommandAttributes
}

// CommandAttributes carries caller-supplied metadata the broker never
// interprets; it is echoed onto the Response that answers this Command.
type CommandAttributes struct {
	ConnectionID string
}

// Response is the broker's answer to a Command. On transport or framing
// failure Bytes is empty and RC carries the failure; Connection is always
// propagated so the caller can route the response regardless of outcome.
type Response struct {
	Bytes      []byte
	Size       uint32
	Connection *connref.Ref
	Attributes CommandAttributes
	RC         tpm2rc.RC
}

// Broker is the serialization core around a single TPM transport. The zero
// value is not usable; construct one with New.
type Broker struct {
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	receiveTimeout time.Duration

	mu sync.Mutex

	state state

	// fixedProps is written exactly once, under mu, before the state
	// transition to stateInitialized; it is read without the mutex
	// thereafter. The atomic store/load on state itself is the
	// release/acquire pairing that makes this safe: a reader that
	// observes stateInitialized via atomic.LoadInt32 is guaranteed to
	// observe the preceding write to fixedProps.
	fixedProps map[uint32]uint32
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithLogger overrides the broker's logger. The default discards all log
// output.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithReceiveTimeout overrides the default timeout the broker waits for a
// response on each Transport.Receive call.
func WithReceiveTimeout(d time.Duration) Option {
	return func(b *Broker) { b.receiveTimeout = d }
}

// WithMetrics wires a *metrics.Metrics collector into the broker. Without
// this option the broker's metrics field stays nil, which every
// metrics.Metrics method tolerates as a no-op.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

const defaultReceiveTimeout = 5 * time.Second

// New constructs a Broker around t. The broker does not touch the
// transport until InitTPM is called.
func New(t transport.Transport, opts ...Option) *Broker {
	b := &Broker{
		transport:      t,
		logger:         slog.New(slog.DiscardHandler),
		receiveTimeout: defaultReceiveTimeout,
		state:          stateCreated,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) loadState() state {
	return state(atomic.LoadInt32((*int32)(&b.state)))
}

func (b *Broker) storeState(s state) {
	atomic.StoreInt32((*int32)(&b.state), int32(s))
}

// InitTPM is idempotent: the first call issues TPM2_Startup(CLEAR),
// tolerates TPM2_RC_INITIALIZE as success, fetches and caches the fixed
// TPM properties, and moves the broker from Created to Initialized.
// Subsequent calls are no-ops returning nil.
func (b *Broker) InitTPM(ctx context.Context) error {
	if b.loadState() != stateCreated {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-check under the mutex: another caller may have raced us between
	// the atomic load above and acquiring the lock.
	if b.loadState() != stateCreated {
		return nil
	}

	if err := b.startupLocked(ctx); err != nil {
		return err
	}

	props, err := b.fixedPropertiesLocked(ctx)
	if err != nil {
		return err
	}

	b.fixedProps = props
	b.storeState(stateInitialized)
	logger.WithLogContext(b.logger, ctx).Info("tpm initialized", "fixedProperties", len(props))
	return nil
}

func (b *Broker) startupLocked(ctx context.Context) error {
	body := tpm2sapi.MarshalStartup(tpm2sapi.SUClear)
	cmd := make([]byte, tpm2header.Size+len(body))
	if err := tpm2header.Encode(tpm2header.Header{
		Tag:  tpm2header.TagNoSessions,
		Size: uint32(len(cmd)),
		Code: tpm2sapi.CCStartup,
	}, cmd); err != nil {
		return err
	}
	copy(cmd[tpm2header.Size:], body)

	resp, err := b.roundTripLocked(ctx, cmd)
	if err != nil {
		return err
	}

	hdr, err := tpm2header.Decode(resp)
	if err != nil {
		return err
	}
	if hdr.Code != 0 && hdr.Code != tpm2header.RCInitialize {
		return tpm2rc.New(tpm2rc.TpmRC(hdr.Code), "TPM2_Startup failed")
	}
	return nil
}

func (b *Broker) fixedPropertiesLocked(ctx context.Context) (map[uint32]uint32, error) {
	body := tpm2sapi.MarshalGetCapability(tpm2header.CapTPMProperties, 0x100, tpm2header.MaxTPMProperties)
	cmd := make([]byte, tpm2header.Size+len(body))
	if err := tpm2header.Encode(tpm2header.Header{
		Tag:  tpm2header.TagNoSessions,
		Size: uint32(len(cmd)),
		Code: tpm2sapi.CCGetCapability,
	}, cmd); err != nil {
		return nil, err
	}
	copy(cmd[tpm2header.Size:], body)

	resp, err := b.roundTripLocked(ctx, cmd)
	if err != nil {
		return nil, err
	}

	hdr, err := tpm2header.Decode(resp)
	if err != nil {
		return nil, err
	}
	if hdr.Code != 0 {
		return nil, tpm2rc.New(tpm2rc.TpmRC(hdr.Code), "GetCapability(TPM_PROPERTIES) failed")
	}

	_, props, err := tpm2sapi.UnmarshalGetCapabilityProperties(resp)
	return props, err
}

// roundTripLocked transmits cmd and receives one framed response, using a
// fixed-size scratch buffer since fixedProps isn't populated yet during
// InitTPM's own bootstrap calls. Callers must hold b.mu.
func (b *Broker) roundTripLocked(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := b.transport.Transmit(cmd); err != nil {
		return nil, tpm2rc.Wrap(tpm2rc.IoError, "transmit", err)
	}

	const bootstrapBufferSize = 4096
	buf := make([]byte, bootstrapBufferSize)
	n, err := b.transport.Receive(buf, b.receiveTimeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SendCommand is the primary passthrough: transmit cmd.Bytes, receive a
// response bounded by the cached PT_MAX_RESPONSE_SIZE, and return a
// Response that always carries cmd.Connection — on transport or framing
// failure the Response carries the failure RC with an empty body instead
// of an error, so every Command yields exactly one Response.
func (b *Broker) SendCommand(ctx context.Context, cmd Command) Response {
	start := time.Now()
	connRef := cmd.Connection
	if connRef != nil {
		connRef = connRef.Clone()
	}

	waitStart := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.RecordMutexWait(time.Since(waitStart))

	if b.loadState() != stateInitialized {
		return b.finishCommand(errorResponse(connRef, cmd.Attributes, tpm2rc.BadValue), start)
	}

	log := logger.WithLogContext(b.logger, ctx)

	if err := b.transport.Transmit(cmd.Bytes); err != nil {
		log.Error("transmit failed", logger.ConnectionID(cmd.Attributes.ConnectionID), logger.Err(err))
		return b.finishCommand(errorResponse(connRef, cmd.Attributes, tpm2rc.IoError), start)
	}

	maxResp, ok := b.fixedProps[tpm2header.PTMaxResponseSize]
	if !ok {
		maxResp = 4096
	}
	buf := make([]byte, maxResp)
	n, err := b.transport.Receive(buf, b.receiveTimeout)
	if err != nil {
		log.Error("receive failed", logger.ConnectionID(cmd.Attributes.ConnectionID), logger.Err(err))
		var rcErr *tpm2rc.Error
		code := tpm2rc.IoError
		if asRC(err, &rcErr) {
			code = rcErr.Code
		}
		return b.finishCommand(errorResponse(connRef, cmd.Attributes, code), start)
	}

	return b.finishCommand(Response{
		Bytes:      buf[:n],
		Size:       uint32(n),
		Connection: connRef,
		Attributes: cmd.Attributes,
		RC:         tpm2rc.Success,
	}, start)
}

func (b *Broker) finishCommand(resp Response, start time.Time) Response {
	b.metrics.RecordCommand(resp.RC.String(), time.Since(start))
	return resp
}

func errorResponse(connRef *connref.Ref, attrs CommandAttributes, code tpm2rc.RC) Response {
	return Response{
		Connection: connRef,
		Attributes: attrs,
		RC:         code,
	}
}

func asRC(err error, target **tpm2rc.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if rc, ok := e.(*tpm2rc.Error); ok {
			*target = rc
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// MaxCommandSize returns the cached PT_MAX_COMMAND_SIZE, failing with
// BadValue if InitTPM has not yet populated the cache.
func (b *Broker) MaxCommandSize() (uint32, error) {
	return b.fixedProperty(tpm2header.PTMaxCommandSize)
}

// MaxResponseSize returns the cached PT_MAX_RESPONSE_SIZE, failing with
// BadValue if InitTPM has not yet populated the cache.
func (b *Broker) MaxResponseSize() (uint32, error) {
	return b.fixedProperty(tpm2header.PTMaxResponseSize)
}

func (b *Broker) fixedProperty(key uint32) (uint32, error) {
	if b.loadState() != stateInitialized {
		return 0, tpm2rc.New(tpm2rc.BadValue, "broker not yet initialized")
	}
	v, ok := b.fixedProps[key]
	if !ok {
		return 0, tpm2rc.New(tpm2rc.BadValue, "fixed property not present")
	}
	return v, nil
}

// Close moves the broker to Disposed and releases the transport. No
// TPM2_Shutdown is issued.
func (b *Broker) Close() error {
	b.storeState(stateDisposed)
	if closer, ok := b.transport.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
