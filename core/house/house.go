package house

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"auctionhouse/core/events"
	"auctionhouse/core/outbox"
	"auctionhouse/core/state"
	"auctionhouse/core/types"
	"auctionhouse/crypto"
	"auctionhouse/native/access"
	"auctionhouse/native/auction"
	"auctionhouse/native/bank"
	"auctionhouse/observability"
	"auctionhouse/storage"
)

var (
	ErrAlreadyInitialized = errors.New("house: already initialized")
	ErrNotInitialized     = errors.New("house: not initialized")
	ErrUnauthorized       = errors.New("house: unauthorized")
	ErrBadSignature       = errors.New("house: signature does not match credential")
	ErrUnknownMethod      = errors.New("house: unknown method")
	ErrDepositNotAccepted = errors.New("house: method does not accept a deposit")
	ErrBadNonce           = access.ErrBadNonce
	ErrMethodNotAllowed   = access.ErrMethodNotAllowed
	ErrAllowanceExhausted = access.ErrAllowanceExhausted

	errCommit = errors.New("house: commit failed")
)

// Genesis is one development allocation applied at deployment.
type Genesis struct {
	Address [20]byte
	Balance *big.Int
	Keys    []crypto.Credential
}

// Config is the one-time construction input of the house.
type Config struct {
	Admin               [20]byte
	HouseAccount        [20]byte
	Custodian           [20]byte
	CustodianCredential crypto.Credential
	DefaultCloseOffset  uint64
	RecallAllowance     *big.Int
	ListingFee          *big.Int
	CallCost            *big.Int
	Genesis             []Genesis
}

// House is the single shared state holder. Every operation, including reads,
// runs under one lock so no two operations ever interleave.
type House struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.AuctionMetrics

	units   metric.Int64Counter
	latency metric.Float64Histogram
}

// New binds a house to db and verifies the stored schema version.
func New(db storage.Database) (*House, error) {
	return Open(db, false)
}

// Open is New with an escape hatch for operators who migrated the store by
// hand: allowMigrate tolerates a schema version mismatch.
func Open(db storage.Database, allowMigrate bool) (*House, error) {
	if db == nil {
		return nil, fmt.Errorf("house: database required")
	}
	if err := state.EnsureStateVersion(state.NewManager(db), allowMigrate); err != nil {
		return nil, err
	}
	meter := otel.Meter("auctionhouse/house")
	units, err := meter.Int64Counter("house.units",
		metric.WithDescription("Units of work run by the house, by method and outcome."))
	if err != nil {
		return nil, fmt.Errorf("house: create counter: %w", err)
	}
	latency, err := meter.Float64Histogram("house.unit.duration",
		metric.WithDescription("Time spent holding the house lock per unit of work."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("house: create histogram: %w", err)
	}
	return &House{
		db:      db,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("auctionhouse/house"),
		units:   units,
		latency: latency,
	}, nil
}

// SetEmitter configures where committed events are published.
func (h *House) SetEmitter(emitter events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

// SetLogger overrides the logger.
func (h *House) SetLogger(logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
}

// SetMetrics enables operation metrics.
func (h *House) SetMetrics(metrics *observability.AuctionMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = metrics
}

// unit is one all-or-nothing piece of work. Writes land in the overlay and
// events in the buffer; both are dropped unless the unit commits.
type unit struct {
	overlay *storage.Overlay
	state   *state.Manager
	events  *events.Buffer
	height  uint64
}

func (u *unit) engine() *auction.Engine {
	engine := auction.NewEngine()
	engine.SetState(u.state)
	engine.SetEmitter(u.events)
	engine.SetHeightFunc(func() uint64 { return u.height })
	return engine
}

func (u *unit) registry() *access.Registry {
	return access.NewRegistry(u.state)
}

func (u *unit) settings() (*auction.Settings, error) {
	settings, err := u.state.AuctionSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, ErrNotInitialized
	}
	return settings, nil
}

// run executes fn in a fresh unit. The caller must hold h.mu.
func (h *House) run(fn func(u *unit) error) error {
	overlay := storage.NewOverlay(h.db)
	u := &unit{overlay: overlay, state: state.NewManager(overlay), events: new(events.Buffer)}
	height, err := u.state.Height()
	if err != nil {
		return err
	}
	u.height = height
	if err := fn(u); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		overlay.Discard()
		return fmt.Errorf("%w: %v", errCommit, err)
	}
	h.publish(u.events)
	return nil
}

func (h *House) publish(buf *events.Buffer) {
	recorder := observability.Events()
	for _, evt := range buf.Events() {
		recorder.Record(evt.EventType())
	}
	buf.Flush(h.emitter)
}

// update runs fn as a traced, measured unit of work under the house lock.
func (h *House) update(ctx context.Context, op string, fn func(u *unit) error) error {
	start := time.Now()
	_, span := h.tracer.Start(ctx, "house."+op, trace.WithAttributes(attribute.String("method", op)))
	defer span.End()
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.run(fn)
	elapsed := time.Since(start)
	h.metrics.ObserveOperation(op, err, elapsed)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("method", op), attribute.String("outcome", outcome))
	h.units.Add(ctx, 1, attrs)
	h.latency.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, op)
	return nil
}

// view runs a read-only function under the house lock. Nothing it writes is
// ever committed.
func (h *House) view(fn func(u *unit) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	overlay := storage.NewOverlay(h.db)
	defer overlay.Discard()
	u := &unit{overlay: overlay, state: state.NewManager(overlay), events: new(events.Buffer)}
	height, err := u.state.Height()
	if err != nil {
		return err
	}
	u.height = height
	return fn(u)
}

// Deploy constructs the house. It succeeds exactly once per store.
func (h *House) Deploy(ctx context.Context, cfg Config) error {
	return h.update(ctx, "deploy", func(u *unit) error {
		existing, err := u.state.AuctionSettings()
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyInitialized
		}
		if !crypto.WellFormed(cfg.Admin) {
			return fmt.Errorf("house: admin: %w", auction.ErrMalformedIdentity)
		}
		if !crypto.WellFormed(cfg.HouseAccount) {
			return fmt.Errorf("house: house account: %w", auction.ErrMalformedIdentity)
		}
		settings := &auction.Settings{
			Version:            1,
			Admin:              cfg.Admin,
			HouseAccount:       cfg.HouseAccount,
			DefaultCloseOffset: cfg.DefaultCloseOffset,
			RecallAllowance:    nonNegative(cfg.RecallAllowance),
			ListingFee:         nonNegative(cfg.ListingFee),
			CallCost:           nonNegative(cfg.CallCost),
		}
		if crypto.WellFormed(cfg.Custodian) {
			settings.HasCustodian = true
			settings.Custodian = cfg.Custodian
		}
		if !cfg.CustodianCredential.IsZero() {
			settings.HasCustodianCredential = true
			settings.CustodianCredential = cfg.CustodianCredential
		}
		if err := u.state.PutAuctionSettings(settings); err != nil {
			return err
		}
		if err := u.state.SetStateVersion(state.StateVersion); err != nil {
			return err
		}
		registry := u.registry()
		if settings.CustodyReady() {
			if err := registry.GrantFull(settings.Custodian, settings.CustodianCredential); err != nil {
				return err
			}
		}
		for _, alloc := range cfg.Genesis {
			if !crypto.WellFormed(alloc.Address) {
				return fmt.Errorf("house: genesis: %w", auction.ErrMalformedIdentity)
			}
			if err := bank.Credit(u.state, alloc.Address, alloc.Balance, u.height); err != nil {
				return fmt.Errorf("house: genesis %s: %w", formatAddress(alloc.Address), err)
			}
			for _, cred := range alloc.Keys {
				if err := registry.GrantFull(alloc.Address, cred); err != nil {
					return fmt.Errorf("house: genesis %s: %w", formatAddress(alloc.Address), err)
				}
			}
		}
		u.events.Emit(newHouseEvent(EventDeployed, u.height, map[string]string{
			"admin":     formatAddress(settings.Admin),
			"house":     formatAddress(settings.HouseAccount),
			"custodial": fmt.Sprintf("%t", settings.CustodyReady()),
		}))
		h.logger.Info("auction house deployed",
			slog.String("admin", formatAddress(settings.Admin)),
			slog.Bool("custody_ready", settings.CustodyReady()),
			slog.Int("genesis_accounts", len(cfg.Genesis)))
		return nil
	})
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Get returns the auction stored under id.
func (h *House) Get(id [32]byte) (*auction.Auction, error) {
	var out *auction.Auction
	err := h.view(func(u *unit) error {
		if _, err := u.settings(); err != nil {
			return err
		}
		a, err := u.engine().Get(id)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Settings returns a copy of the house configuration.
func (h *House) Settings() (*auction.Settings, error) {
	var out *auction.Settings
	err := h.view(func(u *unit) error {
		settings, err := u.settings()
		out = settings
		return err
	})
	return out, err
}

// AccountView is the public view of an account: balance and keys.
type AccountView struct {
	Address [20]byte
	Account *types.Account
	Keys    []*access.Key
}

// Account returns the balance and registered keys of addr.
func (h *House) Account(addr [20]byte) (*AccountView, error) {
	var out *AccountView
	err := h.view(func(u *unit) error {
		acc, err := u.state.GetAccount(addr[:])
		if err != nil {
			return err
		}
		keys, err := u.registry().Keys(addr)
		if err != nil {
			return err
		}
		out = &AccountView{Address: addr, Account: acc, Keys: keys}
		return nil
	})
	return out, err
}

// OutboxStatus returns the group stored under seq.
func (h *House) OutboxStatus(seq uint64) (*outbox.Group, error) {
	var out *outbox.Group
	err := h.view(func(u *unit) error {
		group, ok, err := u.state.OutboxGroup(seq)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: outbox group %d", ErrGroupNotFound, seq)
		}
		out = group
		return nil
	})
	return out, err
}

// ErrGroupNotFound is returned when an outbox sequence was never assigned.
var ErrGroupNotFound = errors.New("house: outbox group not found")

// Height returns the current ledger height.
func (h *House) Height() (uint64, error) {
	var out uint64
	err := h.view(func(u *unit) error {
		out = u.height
		return nil
	})
	return out, err
}

// Backlog reports how many outbox groups await delivery.
func (h *House) Backlog() (uint64, error) {
	var out uint64
	err := h.view(func(u *unit) error {
		n, err := u.state.OutboxBacklog()
		out = n
		return err
	})
	return out, err
}

func (h *House) setPaused(u *unit, signer [20]byte, paused bool) error {
	settings, err := u.settings()
	if err != nil {
		return err
	}
	if signer != settings.Admin {
		return fmt.Errorf("%w: only the admin may change the pause flag", ErrUnauthorized)
	}
	if settings.Paused == paused {
		return nil
	}
	settings.Paused = paused
	if err := u.state.PutAuctionSettings(settings); err != nil {
		return err
	}
	eventType := EventUnpaused
	if paused {
		eventType = EventPaused
	}
	u.events.Emit(newHouseEvent(eventType, u.height, map[string]string{
		"admin": formatAddress(signer),
	}))
	return nil
}
