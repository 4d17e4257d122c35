// Package dispatch owns the retry/backpressure state machine that submits
// orders to a venue transport and applies confirmed fills to the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalflow/internal/broker"
	"signalflow/internal/ledger"
	"signalflow/internal/logger"
	"signalflow/internal/pkg/circuit"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

// State is the lifecycle of one dispatch.
type State string

const (
	StateIdle           State = "IDLE"
	StateAttempting     State = "ATTEMPTING"
	StateRefreshingAuth State = "REFRESHING_AUTH"
	StateSucceeded      State = "SUCCEEDED"
	StateRejected       State = "REJECTED"
	StateAbandoned      State = "ABANDONED"
)

// ErrBreakerOpen means the venue breaker is shedding load; the dispatch
// was abandoned without touching the wire.
var ErrBreakerOpen = errors.New("dispatch: venue circuit open")

// Attempt is one wire round-trip in a dispatch, kept for operator
// visibility when a dispatch is abandoned.
type Attempt struct {
	Seq     int           `json:"seq"`
	Outcome string        `json:"outcome"`
	Error   string        `json:"error,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`
	At      time.Time     `json:"at"`
}

// Result is the terminal outcome of a dispatch, including its full
// attempt history.
type Result struct {
	SignalID  string
	AccountID string
	Label     string
	Symbol    string
	Side      types.Side
	Quantity  int64
	Price     float64
	State     State
	Ack       broker.OrderAck
	Attempts  []Attempt
	Err       error
}

// Config fixes the retry parameters the source material leaves open:
// four attempts total, exponential backoff from 800ms capped at 8s, and
// a 2s base for upstream (gateway-class) failures.
type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	UpstreamBaseDelay time.Duration
	BreakerThreshold  int
	BreakerCooloff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 800 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.UpstreamBaseDelay <= 0 {
		c.UpstreamBaseDelay = 2 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 8
	}
	if c.BreakerCooloff <= 0 {
		c.BreakerCooloff = 30 * time.Second
	}
	return c
}

// Journal persists terminal dispatch results.
type Journal interface {
	RecordDispatch(res Result)
}

// Notifier pushes operator-facing alerts.
type Notifier interface {
	Notify(text string)
}

// ClosedTrade is the realized slice of a fill that reduced an account's
// exposure: quantity closed, entry and exit averages, and the profit
// the ledger computed for that slice.
type ClosedTrade struct {
	AccountID string
	Symbol    string
	Quantity  int64
	EntryAvg  float64
	ExitAvg   float64
	Realized  float64
}

// CloseRecorder persists realized round trips.
type CloseRecorder interface {
	RecordClose(trade ClosedTrade)
}

// Deps are the dispatcher's collaborators. Ledger, Journal, Closes and
// Notifier are optional.
type Deps struct {
	Transport broker.Transport
	Sessions  *session.Cache
	Ledger    *ledger.Ledger
	Journal   Journal
	Closes    CloseRecorder
	Notifier  Notifier
}

type idemKey struct {
	signalID  string
	accountID string
}

type flight struct {
	done   chan struct{}
	result Result
}

// Dispatcher submits orders for one venue transport. Dispatches are keyed
// by (signalID, accountID): a resubmit while a prior dispatch is in
// flight joins it, and a resubmit after a terminal success replays the
// cached result, so a signal can never place duplicate orders.
type Dispatcher struct {
	deps    Deps
	cfg     Config
	breaker *circuit.Breaker
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[idemKey]*flight
	results  map[idemKey]Result
}

func New(deps Deps, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		deps:     deps,
		cfg:      cfg,
		breaker:  circuit.NewBreaker(deps.Transport.Name(), cfg.BreakerThreshold, cfg.BreakerCooloff),
		sleep:    sleepCtx,
		inflight: make(map[idemKey]*flight),
		results:  make(map[idemKey]Result),
	}
}

// Submit places an order, retrying per the outcome classification. The
// returned result is terminal: Succeeded, Rejected or Abandoned.
func (d *Dispatcher) Submit(ctx context.Context, req broker.PlaceOrderRequest) Result {
	key := idemKey{signalID: req.SignalID, accountID: req.AccountID}

	d.mu.Lock()
	if prior, ok := d.results[key]; ok {
		d.mu.Unlock()
		logger.Debugf("dispatch: replaying cached result for signal=%s account=%s", req.SignalID, req.AccountID)
		return prior
	}
	if f, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		logger.Debugf("dispatch: joining in-flight dispatch for signal=%s account=%s", req.SignalID, req.AccountID)
		<-f.done
		return f.result
	}
	f := &flight{done: make(chan struct{})}
	d.inflight[key] = f
	d.mu.Unlock()

	res := d.place(ctx, req)

	d.mu.Lock()
	if res.State == StateSucceeded {
		d.results[key] = res
	}
	delete(d.inflight, key)
	d.mu.Unlock()

	f.result = res
	close(f.done)

	d.settle(req, res)
	return res
}

func (d *Dispatcher) place(ctx context.Context, req broker.PlaceOrderRequest) Result {
	res := Result{
		SignalID:  req.SignalID,
		AccountID: req.AccountID,
		Label:     fmt.Sprintf("place %s %s x%d", req.Side, req.Symbol, req.Quantity),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		State:     StateIdle,
	}
	if err := req.Validate(); err != nil {
		res.State = StateRejected
		res.Err = err
		return res
	}
	return d.execute(ctx, res, req.AccountID, func(ctx context.Context, tok session.Token) (broker.OrderAck, error) {
		return d.deps.Transport.PlaceOrder(ctx, tok, req)
	})
}

// Cancel cancels an order. With verify set, the current status is queried
// first and the cancel is skipped when the order has already reached a
// terminal state; anything still in motion, pending included, goes to
// the venue.
func (d *Dispatcher) Cancel(ctx context.Context, accountID, orderID string, verify bool) Result {
	res := Result{AccountID: accountID, Label: "cancel " + orderID, State: StateIdle}
	return d.execute(ctx, res, accountID, func(ctx context.Context, tok session.Token) (broker.OrderAck, error) {
		if verify {
			status, err := d.deps.Transport.OrderStatus(ctx, tok, accountID, orderID)
			if err != nil {
				return broker.OrderAck{}, err
			}
			if status.State.Terminal() {
				logger.Infof("dispatch: order %s already %s, cancel skipped", orderID, status.State)
				return broker.OrderAck{OrderID: orderID, State: status.State}, nil
			}
		}
		return d.deps.Transport.CancelOrder(ctx, tok, accountID, orderID)
	})
}

// Modify updates an order's parameters, optionally verifying that it has
// not already reached a terminal state first.
func (d *Dispatcher) Modify(ctx context.Context, req broker.ModifyOrderRequest, verify bool) Result {
	res := Result{AccountID: req.AccountID, Label: "modify " + req.OrderID, State: StateIdle}
	return d.execute(ctx, res, req.AccountID, func(ctx context.Context, tok session.Token) (broker.OrderAck, error) {
		if verify {
			status, err := d.deps.Transport.OrderStatus(ctx, tok, req.AccountID, req.OrderID)
			if err != nil {
				return broker.OrderAck{}, err
			}
			if status.State.Terminal() {
				logger.Infof("dispatch: order %s already %s, modify skipped", req.OrderID, status.State)
				return broker.OrderAck{OrderID: req.OrderID, State: status.State}, nil
			}
		}
		return d.deps.Transport.ModifyOrder(ctx, tok, req)
	})
}

// execute drives the attempt state machine:
//
//	Idle -> Attempting -> {Succeeded, Rejected, Failed(kind)}
//	Failed(retryable)   -> Attempting after backoff, until the budget runs out -> Abandoned
//	Failed(AuthExpired) -> RefreshingAuth -> Attempting, at most once
//	Failed(Fatal)       -> Rejected
//
// Cancellation is honored before an attempt and during backoff, never
// between a wire call and its acknowledgement.
func (d *Dispatcher) execute(ctx context.Context, res Result, accountID string, op func(context.Context, session.Token) (broker.OrderAck, error)) Result {
	if !d.breaker.Allow() {
		res.State = StateAbandoned
		res.Err = ErrBreakerOpen
		return res
	}

	refreshedAuth := false
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			res.State = StateAbandoned
			res.Err = err
			return res
		}

		token, err := d.deps.Sessions.Ensure(ctx, accountID)
		if err != nil {
			// Failed refresh is fatal for this dispatch; the next signal
			// starts a fresh session attempt.
			res.State = StateAbandoned
			res.Err = err
			return res
		}

		res.State = StateAttempting
		ack, err := op(ctx, token)
		outcome := Classify(err)
		attempt := Attempt{Seq: len(res.Attempts) + 1, Outcome: outcome.String(), At: time.Now()}
		if err != nil {
			attempt.Error = err.Error()
		}

		switch {
		case outcome == Success:
			d.breaker.RecordSuccess()
			res.Attempts = append(res.Attempts, attempt)
			res.Ack = ack
			res.State = StateSucceeded
			return res

		case outcome == FatalClientError:
			res.Attempts = append(res.Attempts, attempt)
			res.State = StateRejected
			res.Err = err
			return res

		case outcome == AuthExpired:
			res.Attempts = append(res.Attempts, attempt)
			if refreshedAuth {
				res.State = StateAbandoned
				res.Err = err
				return res
			}
			res.State = StateRefreshingAuth
			d.deps.Sessions.Invalidate(accountID)
			if _, rerr := d.deps.Sessions.Refresh(ctx, accountID); rerr != nil {
				res.State = StateAbandoned
				res.Err = rerr
				return res
			}
			refreshedAuth = true

		default: // retryable
			if outcome != RateLimited {
				d.breaker.RecordFailure()
			}
			if len(res.Attempts)+1 >= d.cfg.MaxAttempts {
				res.Attempts = append(res.Attempts, attempt)
				res.State = StateAbandoned
				res.Err = err
				return res
			}
			delay := d.backoff(outcome, retries, err)
			attempt.Backoff = delay
			res.Attempts = append(res.Attempts, attempt)
			retries++
			if serr := d.sleep(ctx, delay); serr != nil {
				res.State = StateAbandoned
				res.Err = serr
				return res
			}
		}
	}
}

// backoff doubles the base per retry, capped at MaxDelay. Rate-limit
// responses honor the venue's own hint when present; upstream failures
// start from a longer base.
func (d *Dispatcher) backoff(outcome Outcome, retry int, err error) time.Duration {
	if outcome == RateLimited {
		if apiErr, ok := broker.AsAPIError(err); ok && apiErr.RetryAfter > 0 {
			if apiErr.RetryAfter > d.cfg.MaxDelay {
				return d.cfg.MaxDelay
			}
			return apiErr.RetryAfter
		}
	}
	base := d.cfg.BaseDelay
	if outcome == UpstreamUnavailable {
		base = d.cfg.UpstreamBaseDelay
	}
	if retry > 30 {
		return d.cfg.MaxDelay
	}
	delay := base << retry
	if delay > d.cfg.MaxDelay {
		delay = d.cfg.MaxDelay
	}
	return delay
}

// settle journals the terminal result, applies confirmed fills to the
// ledger, records the realized slice of reducing fills, and alerts on
// abandoned dispatches. A failed dispatch never touches position state.
func (d *Dispatcher) settle(req broker.PlaceOrderRequest, res Result) {
	if d.deps.Journal != nil {
		d.deps.Journal.RecordDispatch(res)
	}

	switch res.State {
	case StateSucceeded:
		logger.Infof("dispatch: %s succeeded order=%s attempts=%d", res.Label, res.Ack.OrderID, len(res.Attempts))
		if d.deps.Ledger != nil && res.Ack.FilledQty > 0 {
			price := decimal.NewFromFloat(res.Ack.AvgPrice)
			amount := price.Mul(decimal.NewFromInt(res.Ack.FilledQty))
			key := ledger.Key{AccountID: req.AccountID, Symbol: req.Symbol}
			before, _ := d.deps.Ledger.Snapshot(key)
			if _, err := d.deps.Ledger.ApplyFill(key, req.Side, res.Ack.FilledQty, amount); err != nil {
				logger.Errorf("dispatch: applying fill for %s failed: %v", res.Label, err)
			} else if d.deps.Closes != nil {
				if lot, ok := before.CloseAgainst(req.Side, res.Ack.FilledQty, price); ok {
					d.deps.Closes.RecordClose(ClosedTrade{
						AccountID: req.AccountID,
						Symbol:    req.Symbol,
						Quantity:  lot.Quantity,
						EntryAvg:  lot.EntryAvg.InexactFloat64(),
						ExitAvg:   lot.ExitAvg.InexactFloat64(),
						Realized:  lot.Realized.InexactFloat64(),
					})
				}
			}
		}
	case StateRejected:
		logger.Warnf("dispatch: %s rejected: %v", res.Label, res.Err)
	case StateAbandoned:
		logger.Errorf("dispatch: %s abandoned after %d attempts: %v", res.Label, len(res.Attempts), res.Err)
		if d.deps.Notifier != nil {
			d.deps.Notifier.Notify(fmt.Sprintf(
				"dispatch abandoned: account=%s signal=%s %s after %d attempts: %v",
				res.AccountID, res.SignalID, res.Label, len(res.Attempts), res.Err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
