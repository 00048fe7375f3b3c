package house

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auctionhouse/core/outbox"
	"auctionhouse/core/state"
	"auctionhouse/native/bank"
)

// ErrRecipientUnavailable marks a key grant whose holder no longer carries the
// credential being granted. Groups hitting it fall back.
var ErrRecipientUnavailable = errors.New("house: recipient cannot accept the capability")

// Journal outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeRetry    = "retry"
)

// Executor drains the outbox. Each group is applied in its own unit of work
// together with the status change that marks it delivered, so its effects are
// applied exactly once even though delivery is retried until it commits.
type Executor struct {
	house   *House
	journal *outbox.Journal
	runID   string
	logger  *slog.Logger
}

// NewExecutor creates an executor for h. The journal is optional.
func NewExecutor(h *House, journal *outbox.Journal) *Executor {
	return &Executor{
		house:   h,
		journal: journal,
		runID:   uuid.NewString(),
		logger:  h.logger.With(slog.String("component", "executor")),
	}
}

// RunID identifies this executor instance in the journal.
func (e *Executor) RunID() string { return e.runID }

// Step delivers the group at the head of the outbox. It reports whether a
// group reached a terminal status.
func (e *Executor) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	group, attempts, err := e.deliverHead()
	for _, attempt := range attempts {
		if jerr := e.journal.Record(ctx, attempt); jerr != nil {
			e.logger.Warn("journal write failed", slog.String("error", jerr.Error()))
		}
	}
	if err != nil || group == nil {
		return false, err
	}
	e.house.metrics.RecordDelivery(group.Status.String())
	e.logger.Info("outbox group delivered",
		slog.Uint64("sequence", group.Sequence),
		slog.String("origin", group.Origin),
		slog.String("status", group.Status.String()),
		slog.String("reason", group.LastError))
	return true, nil
}

// Drain delivers groups until the outbox is empty, ctx is cancelled or a
// transient error occurs. It returns the number of groups delivered.
func (e *Executor) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		ok, err := e.Step(ctx)
		if err != nil {
			return delivered, err
		}
		if !ok {
			break
		}
		delivered++
	}
	if backlog, err := e.house.Backlog(); err == nil {
		e.house.metrics.SetBacklog(backlog)
	}
	return delivered, nil
}

// Run drains the outbox every interval until ctx is cancelled.
func (e *Executor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("house: executor interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("outbox drain interrupted", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Executor) attempt(group *outbox.Group, outcome string, err error) outbox.Attempt {
	a := outbox.Attempt{RunID: e.runID, Sequence: group.Sequence, Origin: group.Origin, Outcome: outcome}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// deliverHead takes the house lock, applies the head group and returns the
// terminal record together with the attempts to journal.
func (e *Executor) deliverHead() (*outbox.Group, []outbox.Attempt, error) {
	h := e.house
	h.mu.Lock()
	defer h.mu.Unlock()

	head, ok, err := state.NewManager(h.db).NextPendingGroup()
	if err != nil || !ok {
		return nil, nil, err
	}
	var attempts []outbox.Attempt

	primary := head.Clone()
	primary.Attempts++
	primary.Status = outbox.StatusApplied
	applyErr := h.run(func(u *unit) error {
		return settle(u, primary, primary.Intents)
	})
	if applyErr == nil {
		return primary, append(attempts, e.attempt(primary, OutcomeApplied, nil)), nil
	}
	if errors.Is(applyErr, errCommit) {
		return nil, append(attempts, e.attempt(primary, OutcomeRetry, applyErr)), applyErr
	}
	attempts = append(attempts, e.attempt(primary, OutcomeFailed, applyErr))

	if len(head.Fallback) > 0 {
		fallback := head.Clone()
		fallback.Attempts = primary.Attempts + 1
		fallback.Status = outbox.StatusFellBack
		fallback.LastError = applyErr.Error()
		fbErr := h.run(func(u *unit) error {
			return settle(u, fallback, fallback.Fallback)
		})
		if fbErr == nil {
			return fallback, append(attempts, e.attempt(fallback, OutcomeFallback, nil)), nil
		}
		if errors.Is(fbErr, errCommit) {
			return nil, append(attempts, e.attempt(fallback, OutcomeRetry, fbErr)), fbErr
		}
		attempts = append(attempts, e.attempt(fallback, OutcomeFailed, fbErr))
		applyErr = fmt.Errorf("%v; fallback: %v", applyErr, fbErr)
	}

	failed := head.Clone()
	failed.Attempts = primary.Attempts
	if len(head.Fallback) > 0 {
		failed.Attempts++
	}
	failed.Status = outbox.StatusFailed
	failed.LastError = applyErr.Error()
	if err := h.run(func(u *unit) error { return settle(u, failed, nil) }); err != nil {
		return nil, attempts, err
	}
	return failed, attempts, nil
}

// settle applies intents and stores the group with its new status in the same
// unit.
func settle(u *unit, group *outbox.Group, intents []outbox.Intent) error {
	for idx, in := range intents {
		if err := applyIntent(u, in); err != nil {
			return fmt.Errorf("intent %d (%s): %w", idx, in.Kind, err)
		}
	}
	if err := u.state.OutboxPut(group); err != nil {
		return err
	}
	u.events.Emit(newOutboxEvent(group, u.height))
	return nil
}

func applyIntent(u *unit, in outbox.Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}
	registry := u.registry()
	switch in.Kind {
	case outbox.KindAddFullAccessKey:
		if in.Holder != ([20]byte{}) {
			if _, err := registry.Key(in.Holder, in.Credential); err != nil {
				return fmt.Errorf("%w: %s no longer holds %s", ErrRecipientUnavailable, formatAddress(in.Holder), in.Credential)
			}
		}
		return registry.GrantFull(in.Account, in.Credential)
	case outbox.KindAddFunctionCallKey:
		return registry.GrantFunctionCall(in.Account, in.Credential, in.Allowance, in.Receiver, in.Methods)
	case outbox.KindDeleteKey:
		return registry.Revoke(in.Account, in.Credential)
	case outbox.KindTransfer:
		return bank.Transfer(u.state, in.Account, in.To, in.Amount, u.height)
	case outbox.KindConfirmEscrow:
		return u.engine().ConfirmEscrow(in.Subject)
	case outbox.KindVoidListing:
		return u.engine().VoidListing(in.Subject)
	default:
		return fmt.Errorf("house: unsupported intent %s", in.Kind)
	}
}
