// Package fsm implements the controller's session state machine (spec
// §4.2): Idle/Sync/Connected/Transfer, driven by external orders
// (OpenSync/Request/Stop/Drop) and internal events parsed off the wire.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/visuvia/mctp-controller/internal/logging"
	"github.com/visuvia/mctp-controller/internal/mctp"
	"github.com/visuvia/mctp-controller/internal/metrics"
	"github.com/visuvia/mctp-controller/internal/observer"
	"github.com/visuvia/mctp-controller/internal/registry"
)

// State is one of the FSM's four session states.
type State int

const (
	Idle State = iota
	Sync
	Connected
	Transfer
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Sync:
		return "Sync"
	case Connected:
		return "Connected"
	case Transfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// Transporter is the subset of *transport.Transport the FSM depends on.
// Declared here (rather than imported as a concrete type) so tests can
// substitute a fake without touching a real serial port.
type Transporter interface {
	Write(p []byte) error
	ReadUntil(delimiter []byte) ([]byte, bool, error)
}

const (
	defaultSyncTimeout = 5 * time.Second
	defaultStopTimeout = 2 * time.Second
	defaultDropTimeout = 3 * time.Second
	orderQueueCapacity = 4
)

// FSM owns the session state and the single goroutine that runs it. The
// order queue is a small buffered channel so a foreground caller's
// OpenSync/Request/Stop/Drop never blocks behind the FSM goroutine (spec §9
// / §5's "MUST NOT assume cooperative single-threaded scheduling").
type FSM struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	running bool

	orders chan order

	transport Transporter
	codec     mctp.Codec
	registry  *registry.Registry
	sink      observer.Sink
	logger    *slog.Logger

	syncTimeout time.Duration
	stopTimeout time.Duration
	dropTimeout time.Duration

	framesReceived uint64
	bytesReceived  uint64

	errCh chan error
}

// Option configures an FSM at construction time.
type Option func(*FSM)

// WithLogger overrides the FSM's logger; defaults to logging.L().
func WithLogger(l *slog.Logger) Option {
	return func(f *FSM) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSyncTimeout overrides the 5-second sync_loop deadline.
func WithSyncTimeout(d time.Duration) Option {
	return func(f *FSM) {
		if d > 0 {
			f.syncTimeout = d
		}
	}
}

// WithStopTimeout overrides the 2-second stop_loop deadline.
func WithStopTimeout(d time.Duration) Option {
	return func(f *FSM) {
		if d > 0 {
			f.stopTimeout = d
		}
	}
}

// WithDropTimeout overrides the 3-second drop_loop deadline.
func WithDropTimeout(d time.Duration) Option {
	return func(f *FSM) {
		if d > 0 {
			f.dropTimeout = d
		}
	}
}

// New constructs an FSM over an already-open transport, a registry to
// accumulate data into, and a sink to notify. The FSM starts in Idle.
func New(t Transporter, reg *registry.Registry, sink observer.Sink, opts ...Option) *FSM {
	f := &FSM{
		state:       Idle,
		orders:      make(chan order, orderQueueCapacity),
		transport:   t,
		registry:    reg,
		sink:        sink,
		logger:      logging.L(),
		syncTimeout: defaultSyncTimeout,
		stopTimeout: defaultStopTimeout,
		dropTimeout: defaultDropTimeout,
		errCh:       make(chan error, 1),
	}
	f.cond = sync.NewCond(&f.mu)
	for _, o := range opts {
		o(f)
	}
	return f
}

// State returns the FSM's current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// WaitForChange blocks until the FSM's state differs from current, then
// returns the new state. Used by a foreground poller (e.g. the CLI's status
// line) that wants to block rather than busy-poll State().
func (f *FSM) WaitForChange(current State) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.state == current {
		f.cond.Wait()
	}
	return f.state
}

// Errors exposes unrecoverable transport failures that aborted Run.
func (f *FSM) Errors() <-chan error { return f.errCh }

func (f *FSM) setState(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	metrics.SetFSMState(int(to))
	if from != to {
		metrics.IncFSMTransition(from.String(), to.String())
		f.logger.Info("fsm_transition", "from", from, "to", to)
	}
	f.cond.Broadcast()
}

// Submit enqueues an order and blocks until the FSM drains and answers it,
// returning ErrOrderRejected if the order was invalid for the state it was
// drained in. Submit itself never blocks behind the FSM's internal retry
// loops thanks to the buffered order channel — it only blocks waiting for
// the ack.
func (f *FSM) Submit(ctx context.Context, kind OrderKind) error {
	ack := make(chan error, 1)
	select {
	case f.orders <- order{kind: kind, ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ackOf(o order, err error) {
	if o.ack == nil {
		return
	}
	select {
	case o.ack <- err:
	default:
	}
}

// Run drives the FSM until ctx is cancelled or an unrecoverable transport
// error occurs. It is the FSM's single owning goroutine; callers interact
// exclusively through Submit.
func (f *FSM) Run(ctx context.Context) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch f.State() {
		case Idle, Connected:
			select {
			case ord := <-f.orders:
				ord = f.selectOrder(ord)
				// handleOrder acks ord itself on every path; an error here
				// means an unrecoverable transport failure that ends Run.
				if err := f.handleOrder(ctx, ord); err != nil {
					return f.abort(err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		case Transfer:
			if err := f.transferTick(ctx); err != nil {
				return f.abort(err)
			}
		default:
			return fmt.Errorf("fsm: unexpected state %s outside handleOrder", f.State())
		}
	}
}

func (f *FSM) abort(err error) error {
	metrics.IncError(mapErrToMetric(err))
	f.logger.Error("fsm_aborted", "error", err)
	select {
	case f.errCh <- err:
	default:
	}
	return err
}

// handleOrder validates and executes one order against the current state.
// Returns a non-nil error only for an unrecoverable transport failure; a
// rejected (state-mismatched) order is reported via the order's ack
// channel, not as a Run-ending error.
func (f *FSM) handleOrder(ctx context.Context, ord order) error {
	state := f.State()

	// Drop pre-empts every other order in any state (spec §4.2).
	if ord.kind == OrderDrop {
		err := f.runDropLoop(ctx)
		ackOf(ord, nil)
		return err
	}

	switch {
	case ord.kind == OrderOpenSync && state == Idle:
		return f.handleOpenSync(ctx, ord)
	case ord.kind == OrderRequest && state == Connected:
		return f.handleRequest(ord)
	case ord.kind == OrderStop && state == Transfer:
		err := f.runStopLoop(ctx)
		ackOf(ord, nil)
		return err
	default:
		ackOf(ord, fmt.Errorf("%w: %s invalid in state %s", ErrOrderRejected, ord.kind, state))
		return nil
	}
}

func (f *FSM) handleOpenSync(ctx context.Context, ord order) error {
	f.sink.StatusSyncing()
	f.setState(Sync)

	n, err := f.runSyncLoop(ctx)
	if err != nil {
		// A Drop pre-empting sync_loop (ErrSyncAborted) is an ordinary,
		// user-initiated outcome, not an unrecoverable failure — treat it
		// like any other failed sync so Run keeps going (spec §4.2: Drop is
		// valid in any state and must not take the whole FSM down with it).
		f.sink.StatusFailed()
		f.setState(Idle)
		ackOf(ord, err)
		return nil
	}

	f.registry.ClearChannels()
	for i := uint8(0); i < n; i++ {
		f.registry.AddChannel(i)
	}
	metrics.SetRegistryChannels(int(n))
	if err := f.transport.Write(f.codec.Serialize(mctp.KindAck)); err != nil {
		ackOf(ord, nil)
		return err
	}
	f.sink.StatusConnected(int(n))
	f.setState(Connected)
	ackOf(ord, nil)
	return nil
}

func (f *FSM) handleRequest(ord order) error {
	if err := f.transport.Write(f.codec.Serialize(mctp.KindRequest)); err != nil {
		ackOf(ord, nil)
		return err
	}
	f.registry.ClearData()
	f.registry.SetTimeRef()
	f.mu.Lock()
	f.framesReceived, f.bytesReceived = 0, 0
	f.mu.Unlock()
	f.setState(Transfer)
	ackOf(ord, nil)
	return nil
}

// runSyncLoop implements spec §4.2's sync_loop: resend Sync until a
// SyncResp is parsed, a 5-second deadline expires, or Drop pre-empts.
func (f *FSM) runSyncLoop(ctx context.Context) (uint8, error) {
	deadline := mctp.NewDeadline("sync", f.syncTimeout)
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if ord, ok := f.tryDrainDrop(); ok {
			err := f.runDropLoop(ctx)
			ackOf(ord, nil)
			if err != nil {
				return 0, err
			}
			return 0, ErrSyncAborted
		}
		if deadline.Expired() {
			return 0, ErrSyncTimeout
		}
		if err := f.transport.Write(f.codec.Serialize(mctp.KindSync)); err != nil {
			return 0, err
		}
		buf, ok, err := f.transport.ReadUntil(mctp.EOM[:])
		if err != nil {
			return 0, err
		}
		if !ok {
			metrics.IncSyncRetry()
			continue
		}
		frame, perr := f.codec.Parse(buf)
		if perr != nil {
			f.logParseError(perr)
			metrics.IncSyncRetry()
			continue
		}
		if frame.Kind == mctp.KindSyncResp {
			return frame.NOfChannels, nil
		}
		metrics.IncSyncRetry()
	}
}

// runStopLoop implements spec §4.2's stop_loop: send Stop once, then resend
// on a 2-second deadline until the performer echoes Stop, or the deadline
// forces a transition anyway. A Drop order queued mid-loop pre-empts it
// (spec §4.2/§8: Drop reaches Idle within drop_loop_deadline plus one
// transport timeout from any state, including mid-Stop).
func (f *FSM) runStopLoop(ctx context.Context) error {
	if err := f.transport.Write(f.codec.Serialize(mctp.KindStop)); err != nil {
		f.setState(Connected)
		return err
	}
	deadline := mctp.NewDeadline("stop", f.stopTimeout)
	for {
		if ctx.Err() != nil {
			f.setState(Connected)
			return ctx.Err()
		}
		if dropOrd, ok := f.tryDrainDrop(); ok {
			err := f.runDropLoop(ctx)
			ackOf(dropOrd, nil)
			return err
		}
		if deadline.Expired() {
			f.logger.Warn("stop_loop_deadline", "forced", true)
			f.setState(Connected)
			return nil
		}
		buf, ok, err := f.transport.ReadUntil(mctp.EOM[:])
		if err != nil {
			f.setState(Connected)
			return err
		}
		if !ok {
			metrics.IncStopRetry()
			if err := f.transport.Write(f.codec.Serialize(mctp.KindStop)); err != nil {
				f.setState(Connected)
				return err
			}
			continue
		}
		frame, perr := f.codec.Parse(buf)
		if perr != nil {
			f.logParseError(perr)
			continue
		}
		if frame.Kind == mctp.KindStop {
			f.setState(Connected)
			return nil
		}
	}
}

// runDropLoop implements spec §4.2's drop_loop: send Drop once, then resend
// on a 3-second deadline until the performer echoes Drop. Drop is
// best-effort: a deadline expiry warns and transitions to Idle regardless
// (see forceIdle). A second Drop order arriving while one is already in
// flight is acked immediately rather than restarting the procedure.
func (f *FSM) runDropLoop(ctx context.Context) error {
	if err := f.transport.Write(f.codec.Serialize(mctp.KindDrop)); err != nil {
		f.forceIdle()
		return err
	}
	deadline := mctp.NewDeadline("drop", f.dropTimeout)
	for {
		if ctx.Err() != nil {
			f.forceIdle()
			return ctx.Err()
		}
		if dropOrd, ok := f.tryDrainDrop(); ok {
			ackOf(dropOrd, nil)
		}
		if deadline.Expired() {
			f.logger.Warn("drop_loop_deadline", "forced", true)
			f.forceIdle()
			return nil
		}
		buf, ok, err := f.transport.ReadUntil(mctp.EOM[:])
		if err != nil {
			f.forceIdle()
			return err
		}
		if !ok {
			metrics.IncDropRetry()
			if err := f.transport.Write(f.codec.Serialize(mctp.KindDrop)); err != nil {
				f.forceIdle()
				return err
			}
			continue
		}
		frame, perr := f.codec.Parse(buf)
		if perr != nil {
			f.logParseError(perr)
			continue
		}
		if frame.Kind == mctp.KindDrop {
			f.forceIdle()
			return nil
		}
	}
}

// forceIdle discards whatever the data registry accumulated this session
// (spec §3's DataChannel lifecycle: cleared on session drop, matching the
// original's display_disable drop path) and transitions the FSM to Idle.
func (f *FSM) forceIdle() {
	f.registry.ClearData()
	f.setState(Idle)
}

// selectOrder applies spec §4.2's Drop > Request > Stop precedence across
// every order currently queued: given first (already popped via a blocking
// receive), it non-blockingly drains whatever else is waiting behind it,
// picks the highest-precedence one to service now, and re-queues the rest
// in precedence order (orders of equal precedence keep their arrival order). Without this, two orders enqueued in
// the same tick would simply be serviced FIFO, letting a Stop queued ahead
// of a Drop run to completion before the Drop is even looked at.
func (f *FSM) selectOrder(first order) order {
	pending := []order{first}
drain:
	for {
		select {
		case o := <-f.orders:
			pending = append(pending, o)
		default:
			break drain
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].kind.precedence() < pending[j].kind.precedence()
	})
	best := pending[0]
	for _, o := range pending[1:] {
		f.orders <- o
	}
	return best
}

// tryDrainDrop non-blockingly checks for a queued Drop order, which
// pre-empts whatever retry loop is currently running (spec §4.2's
// precedence rule, applied mid-loop as well as between ticks).
func (f *FSM) tryDrainDrop() (order, bool) {
	select {
	case ord := <-f.orders:
		if ord.kind == OrderDrop {
			return ord, true
		}
		// Not a Drop: reject it immediately, it arrived while we were busy
		// inside a retry loop that only Drop may interrupt.
		ackOf(ord, fmt.Errorf("%w: %s arrived mid-retry-loop", ErrOrderRejected, ord.kind))
		return order{}, false
	default:
		return order{}, false
	}
}

// transferTick runs one iteration of the Transfer state: drain a
// pre-empting order if present, else read one frame bounded by the
// transport's read timeout.
func (f *FSM) transferTick(ctx context.Context) error {
	select {
	case ord := <-f.orders:
		return f.handleOrder(ctx, f.selectOrder(ord))
	default:
	}

	buf, ok, err := f.transport.ReadUntil(mctp.EOM[:])
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	frame, perr := f.codec.Parse(buf)
	if perr != nil {
		f.logParseError(perr)
		return nil
	}

	f.mu.Lock()
	f.framesReceived++
	f.bytesReceived += uint64(frame.DataSize)
	f.mu.Unlock()
	metrics.IncFramesReceived(int(frame.DataSize))

	if frame.Kind != mctp.KindData {
		return nil
	}
	if len(frame.NumericChannels) > 0 {
		f.registry.AppendData(frame.NumericChannels)
		ids := make([]uint8, 0, len(frame.NumericChannels))
		for id, samples := range frame.NumericChannels {
			ids = append(ids, id)
			metrics.AddRegistrySamples(fmt.Sprintf("%d", id), len(samples))
		}
		f.sink.ChannelInfoUpdate(ids)
		f.sink.ChannelInfoDraw()
	}
	if len(frame.TextChannels) > 0 {
		f.registry.AppendText(frame.TextChannels)
		f.sink.AppendText(frame.TextChannels)
	}
	return nil
}

func (f *FSM) logParseError(err error) {
	var pe *mctp.ParseError
	if errors.As(err, &pe) {
		metrics.IncParseError(pe.Kind.String())
		f.logger.Warn("frame_parse_error", "kind", pe.Kind, "context", pe.Context)
		return
	}
	f.logger.Warn("frame_parse_error", "error", err)
}

// Stats reports the FSM's frames/bytes counters, reset on every Transfer
// entry (spec §4.2).
func (f *FSM) Stats() (frames, bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.framesReceived, f.bytesReceived
}
