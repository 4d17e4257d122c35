// Package ingest is the entry point for trade signals. It validates the
// raw payload, fans the signal out to every active account, and runs
// each account's eligibility, sizing, margin and dispatch steps in
// isolation, so one account's failure never touches another's order.
package ingest

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"signalflow/internal/accounts"
	"signalflow/internal/broker"
	"signalflow/internal/dispatch"
	"signalflow/internal/eligibility"
	"signalflow/internal/ledger"
	"signalflow/internal/logger"
	"signalflow/internal/session"
	"signalflow/internal/sizing"
	"signalflow/internal/types"
)

//go:embed signal_schema.json
var signalSchema string

// Venue bundles everything needed to execute against one broker.
type Venue struct {
	Transport  broker.Transport
	Sessions   *session.Cache
	Dispatcher *dispatch.Dispatcher
}

// AccountSource supplies the current account configuration.
type AccountSource interface {
	Snapshot() accounts.Snapshot
}

// ATRSource supplies volatility for the sizing methods that need it.
type ATRSource interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

// OutcomeSource reports how an account's last trade closed.
type OutcomeSource interface {
	LastOutcome(accountID string) types.TradeOutcome
}

// Status is the terminal state of one per-account task.
type Status string

const (
	StatusDispatched Status = "DISPATCHED"
	StatusSkipped    Status = "SKIPPED"
	StatusFailed     Status = "FAILED"
)

// TaskResult is the outcome of one account's execution task.
type TaskResult struct {
	AccountID string
	Status    Status
	Reason    string
	Quantity  int64
	Dispatch  *dispatch.Result
	Err       error
}

// Report summarizes a signal's fan-out.
type Report struct {
	Signal  types.Signal
	Results []TaskResult
}

// Dispatched counts tasks that reached the wire successfully.
func (r Report) Dispatched() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusDispatched && res.Dispatch != nil && res.Dispatch.State == dispatch.StateSucceeded {
			n++
		}
	}
	return n
}

// Ingestor validates and executes signals.
type Ingestor struct {
	schema   *jsonschema.Schema
	accounts AccountSource
	venues   map[string]Venue
	book     *ledger.Ledger
	atr      ATRSource
	outcomes OutcomeSource
}

// Deps wires the ingestor's collaborators. ATR and Outcomes are
// optional; accounts whose sizing needs them fail their tasks when the
// source is absent.
type Deps struct {
	Accounts AccountSource
	Venues   map[string]Venue
	Ledger   *ledger.Ledger
	ATR      ATRSource
	Outcomes OutcomeSource
}

func New(deps Deps) (*Ingestor, error) {
	if deps.Accounts == nil {
		return nil, fmt.Errorf("ingest: an account source is required")
	}
	if len(deps.Venues) == 0 {
		return nil, fmt.Errorf("ingest: at least one venue is required")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal_schema.json", strings.NewReader(signalSchema)); err != nil {
		return nil, fmt.Errorf("ingest: loading signal schema: %w", err)
	}
	schema, err := compiler.Compile("signal_schema.json")
	if err != nil {
		return nil, fmt.Errorf("ingest: compiling signal schema: %w", err)
	}
	return &Ingestor{
		schema:   schema,
		accounts: deps.Accounts,
		venues:   deps.Venues,
		book:     deps.Ledger,
		atr:      deps.ATR,
		outcomes: deps.Outcomes,
	}, nil
}

// Decode validates a raw payload against the signal schema and returns
// the parsed signal.
func (in *Ingestor) Decode(payload []byte) (types.Signal, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return types.Signal{}, fmt.Errorf("ingest: payload is not JSON: %w", err)
	}
	if err := in.schema.Validate(doc); err != nil {
		return types.Signal{}, fmt.Errorf("ingest: payload rejected by schema: %w", err)
	}

	var sig types.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return types.Signal{}, fmt.Errorf("ingest: decoding signal: %w", err)
	}
	side, err := types.ParseSide(string(sig.Side))
	if err != nil {
		return types.Signal{}, fmt.Errorf("ingest: signal %s: %w", sig.ID, err)
	}
	sig.Side = side
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now()
	}
	if err := sig.Validate(); err != nil {
		return types.Signal{}, fmt.Errorf("ingest: %w", err)
	}
	return sig, nil
}

// Process runs one signal end to end: decode, fan out to all active
// accounts, and collect per-account results. Task failures are reported
// in the results, never as an error from Process itself.
func (in *Ingestor) Process(ctx context.Context, payload []byte) (Report, error) {
	sig, err := in.Decode(payload)
	if err != nil {
		return Report{}, err
	}
	return in.Execute(ctx, sig), nil
}

// Execute fans an already-validated signal out to all active accounts.
func (in *Ingestor) Execute(ctx context.Context, sig types.Signal) Report {
	active := in.accounts.Snapshot().Active()
	results := make([]TaskResult, len(active))

	var g errgroup.Group
	for i, acct := range active {
		i, acct := i, acct
		g.Go(func() error {
			results[i] = in.runTask(ctx, sig, acct)
			return nil
		})
	}
	// Tasks report through results, never through the group.
	_ = g.Wait()

	report := Report{Signal: sig, Results: results}
	logger.Infof("ingest: signal %s fanned out to %d accounts, %d dispatched",
		sig.ID, len(active), report.Dispatched())
	return report
}

func (in *Ingestor) runTask(ctx context.Context, sig types.Signal, acct accounts.Account) TaskResult {
	res := TaskResult{AccountID: acct.ID}

	venue, ok := in.venues[acct.Broker]
	if !ok {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("no venue configured for broker %q", acct.Broker)
		return res
	}

	state, err := in.buildState(ctx, sig, acct)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	verdict, err := eligibility.Evaluate(sig, state, &acct.Eligibility)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	if !verdict.Eligible {
		res.Status = StatusSkipped
		res.Reason = verdict.Reason
		return res
	}

	strategy, err := sizing.New(acct.Sizing)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	sized, err := strategy.Size(sig, state)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("sizing %s for %s: %w", acct.Sizing.Method, acct.ID, err)
		return res
	}
	if !sized.Actionable() {
		res.Status = StatusSkipped
		res.Reason = sized.Reason
		return res
	}
	res.Quantity = sized.Quantity

	order := broker.PlaceOrderRequest{
		AccountID:       acct.ID,
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		ExchangeSegment: sig.Exchange,
		Side:            sig.Side,
		Quantity:        sized.Quantity,
		Price:           sig.EntryPrice,
		OrderType:       broker.OrderTypeLimit,
		Validity:        broker.ValidityDay,
		Product:         broker.ProductIntraday,
		Tag:             sig.ID,
	}

	if acct.MarginCheck {
		if skip, err := in.marginGate(ctx, venue, acct.ID, order); err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		} else if skip != "" {
			res.Status = StatusSkipped
			res.Reason = skip
			return res
		}
	}

	outcome := venue.Dispatcher.Submit(ctx, order)
	res.Dispatch = &outcome
	if outcome.State == dispatch.StateSucceeded {
		res.Status = StatusDispatched
	} else {
		res.Status = StatusFailed
		res.Err = outcome.Err
	}
	return res
}

// buildState assembles the sizing inputs. ATR is fetched only for the
// methods that read it; everything else stays a pure snapshot.
func (in *Ingestor) buildState(ctx context.Context, sig types.Signal, acct accounts.Account) (types.AccountState, error) {
	state := types.AccountState{
		AccountID: acct.ID,
		Capital:   acct.Capital,
	}
	if acct.Sizing.RiskPct > 0 {
		state.RiskAmount = acct.Capital * acct.Sizing.RiskPct
	}
	if in.book != nil {
		state.OpenPositions = in.book.OpenPositions(acct.ID)
	}
	if in.outcomes != nil {
		state.LastOutcome = in.outcomes.LastOutcome(acct.ID)
	}

	switch acct.Sizing.Method {
	case sizing.MethodVolatilityBased, sizing.MethodPercentVolatility:
		if in.atr == nil {
			return state, fmt.Errorf("account %s sizing needs ATR but no indicator source is wired", acct.ID)
		}
		atr, err := in.atr.ATR(ctx, sig.Symbol)
		if err != nil {
			return state, err
		}
		state.ATR = atr
	}
	return state, nil
}

func (in *Ingestor) marginGate(ctx context.Context, venue Venue, accountID string, order broker.PlaceOrderRequest) (string, error) {
	token, err := venue.Sessions.Ensure(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("margin check session for %s: %w", accountID, err)
	}
	margin, err := venue.Transport.MarginRequired(ctx, token, order)
	if err != nil {
		return "", fmt.Errorf("margin check for %s: %w", accountID, err)
	}
	if !margin.Valid {
		return fmt.Sprintf("margin %.2f exceeds available %.2f", margin.Required, margin.Available), nil
	}
	return "", nil
}

// Reconcile replaces the ledger's aggregates for one account with the
// venue's own view. Used at startup and on operator request.
func (in *Ingestor) Reconcile(ctx context.Context, accountID string) (int, error) {
	if in.book == nil {
		return 0, fmt.Errorf("ingest: no ledger to reconcile into")
	}
	snap := in.accounts.Snapshot()
	acct, ok := snap.Accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("ingest: unknown account %q", accountID)
	}
	venue, ok := in.venues[acct.Broker]
	if !ok {
		return 0, fmt.Errorf("ingest: no venue configured for broker %q", acct.Broker)
	}
	token, err := venue.Sessions.Ensure(ctx, accountID)
	if err != nil {
		return 0, err
	}
	positions, err := venue.Transport.Positions(ctx, token, accountID)
	if err != nil {
		return 0, err
	}
	for _, pos := range positions {
		in.book.Replace(pos)
	}
	logger.Infof("ingest: reconciled %d positions for account %s from %s", len(positions), accountID, acct.Broker)
	return len(positions), nil
}
