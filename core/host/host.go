package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mystra/core/events"
	"mystra/core/state"
	"mystra/core/types"
	"mystra/crypto"
	"mystra/native/market"
	"mystra/observability/metrics"
	"mystra/state/bank"
	"mystra/state/nft"
	"mystra/storage"
)

var (
	// ErrDevnetDisabled is returned by the devnet helpers when the host was
	// not started with the devnet enabled.
	ErrDevnetDisabled = errors.New("host: devnet helpers disabled")
	// ErrCallPanicked wraps a panic raised while executing a call.
	ErrCallPanicked = errors.New("host: call panicked")
	errNilDatabase  = errors.New("host: database not configured")
)

// Call is one authenticated invocation of a marketplace entry point.
type Call struct {
	Caller     crypto.Identity
	EntryPoint string
	Args       market.Args
}

// Result describes a committed call.
type Result struct {
	CallID    string
	BlockTime uint64
	Value     any
	Events    []*types.Event
}

// Options are fixed for the lifetime of a host.
type Options struct {
	// PackageIdentity is the identity the marketplace acts as towards the
	// asset registry. Owners approve this identity before listing.
	PackageIdentity crypto.Identity
	Params          market.Params
	Devnet          bool
}

// Host executes marketplace calls one at a time against the latest committed
// state. Each call runs on a write-buffering overlay that is committed in one
// atomic batch when the call succeeds and discarded when it fails.
type Host struct {
	mu        sync.Mutex
	db        storage.Database
	opts      Options
	vaults    market.Vaults
	nowFn     func() time.Time
	lastBlock uint64
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *metrics.MarketMetrics
	tracer    trace.Tracer
}

// tx is the per-call view of every collaborator, all bound to one overlay.
type tx struct {
	call      Call
	callID    string
	blockTime uint64
	state     *state.Manager
	ledger    *bank.Ledger
	registry  *nft.Registry
	engine    *market.Engine
	events    *events.Buffer
}

// New creates a host over db and resolves the custody purses, creating them
// on first start.
func New(db storage.Database, opts Options) (*Host, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	h := &Host{
		db:      db,
		opts:    opts,
		nowFn:   time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("mystra/core/host"),
	}
	overlay := storage.NewOverlay(db)
	manager := state.NewManager(overlay)
	vaults, err := market.ResolveVaults(manager, bank.NewLedger(manager))
	if err != nil {
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, fmt.Errorf("host: persist custody purses: %w", err)
	}
	h.vaults = vaults
	return h, nil
}

// SetNowFunc overrides the clock used to sample block time.
func (h *Host) SetNowFunc(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	h.nowFn = now
}

// SetEmitter configures where committed events are sent. Passing nil discards
// them.
func (h *Host) SetEmitter(emitter events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.emitter = emitter
}

// SetLogger configures the call logger.
func (h *Host) SetLogger(logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
}

// SetMetrics configures the metrics sink. Nil disables metrics.
func (h *Host) SetMetrics(m *metrics.MarketMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// Vaults returns the resolved custody purses.
func (h *Host) Vaults() market.Vaults { return h.vaults }

// PackageIdentity returns the identity the marketplace acts as.
func (h *Host) PackageIdentity() crypto.Identity { return h.opts.PackageIdentity }

// DevnetEnabled reports whether the devnet helpers are available.
func (h *Host) DevnetEnabled() bool { return h.opts.Devnet }

// sampleBlockTime returns the call's block time in milliseconds. Block time
// never moves backwards even if the wall clock does.
func (h *Host) sampleBlockTime() uint64 {
	now := h.nowFn().UnixMilli()
	var sample uint64
	if now > 0 {
		sample = uint64(now)
	}
	if sample < h.lastBlock {
		sample = h.lastBlock
	}
	h.lastBlock = sample
	return sample
}

func (h *Host) newTx(overlay *storage.Overlay, call Call) *tx {
	manager := state.NewManager(overlay)
	ledger := bank.NewLedger(manager)
	registry := nft.NewRegistry(manager)
	buf := &events.Buffer{}

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetRegistry(nft.NewOperatorView(registry, h.opts.PackageIdentity))
	engine.SetPurseGuard(ledger)
	engine.SetVaults(h.vaults)
	engine.SetParams(h.opts.Params)
	engine.SetEmitter(buf)

	return &tx{
		call:      call,
		callID:    uuid.NewString(),
		blockTime: h.sampleBlockTime(),
		state:     manager,
		ledger:    ledger,
		registry:  registry,
		engine:    engine,
		events:    buf,
	}
}

func (t *tx) callContext() market.CallContext {
	return market.CallContext{Caller: t.call.Caller, BlockTime: t.blockTime}
}

// run executes fn as one atomic call. Only a successful fn is committed, and
// only a committed call releases its events.
func (h *Host) run(ctx context.Context, call Call, fn func(*tx) (any, error)) (result *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := h.tracer.Start(ctx, "market."+call.EntryPoint, trace.WithAttributes(
		attribute.String("market.entry_point", call.EntryPoint),
		attribute.String("market.caller", call.Caller.String()),
	))
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	overlay := storage.NewOverlay(h.db)
	t := h.newTx(overlay, call)
	logger := h.logger.With(
		slog.String("callId", t.callID),
		slog.String("entryPoint", call.EntryPoint),
		slog.String("caller", call.Caller.String()),
		slog.Uint64("blockTime", t.blockTime),
	)

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = market.CodeName(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("market.call_id", t.callID), attribute.String("market.outcome", outcome))
		h.metrics.ObserveCall(call.EntryPoint, outcome, time.Since(started))
	}()

	value, err := invoke(t, fn)
	if err != nil {
		overlay.Discard()
		logger.Info("market call rejected",
			slog.String("outcome", market.CodeName(err)),
			slog.Int("code", int(market.Code(err))),
			slog.String("error", err.Error()))
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		h.metrics.ObserveCommitFailure()
		logger.Error("market call commit failed", slog.String("error", err.Error()))
		return nil, err
	}

	buffered := t.events.Events()
	result = &Result{CallID: t.callID, BlockTime: t.blockTime, Value: value}
	for i, evt := range buffered {
		payload, ok := evt.(events.Payload)
		if !ok || payload.Event() == nil {
			continue
		}
		clone := payload.Event().Clone()
		result.Events = append(result.Events, clone)
		h.emitter.Emit(events.Committed{CallID: t.callID, BlockTime: t.blockTime, Sequence: i, Payload: clone})
		h.metrics.ObserveEvent(clone.Type)
	}
	logger.Info("market call committed",
		slog.String("outcome", "ok"),
		slog.Int("events", len(result.Events)))
	return result, nil
}

func invoke(t *tx, fn func(*tx) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v", ErrCallPanicked, r)
		}
	}()
	return fn(t)
}

// Execute runs one marketplace entry point.
func (h *Host) Execute(ctx context.Context, call Call) (*Result, error) {
	return h.run(ctx, call, func(t *tx) (any, error) {
		return t.engine.Invoke(t.callContext(), call.EntryPoint, call.Args)
	})
}

// view runs fn against the committed state and discards anything it writes.
func (h *Host) view(fn func(*tx) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	overlay := storage.NewOverlay(h.db)
	defer overlay.Discard()
	manager := state.NewManager(overlay)
	ledger := bank.NewLedger(manager)
	registry := nft.NewRegistry(manager)
	engine := market.NewEngine()
	engine.SetState(manager)
	return fn(&tx{state: manager, ledger: ledger, registry: registry, engine: engine})
}
