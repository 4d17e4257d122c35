package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/accounts"
	sfcfg "signalflow/internal/config"
	"signalflow/internal/eligibility"
	"signalflow/internal/ingest"
	"signalflow/internal/sizing"
	"signalflow/internal/types"
)

type staticAccounts struct{ snap accounts.Snapshot }

func (s staticAccounts) Snapshot() accounts.Snapshot { return s.snap }

func testConfig(t *testing.T) *sfcfg.Config {
	t.Helper()
	dir := t.TempDir()
	return &sfcfg.Config{
		App: sfcfg.AppConfig{Env: "test", LogLevel: "info", HTTPAddr: ":0"},
		Store: sfcfg.StoreConfig{
			OrdersPath:      filepath.Join(dir, "orders.db"),
			DispatchLogPath: filepath.Join(dir, "dispatch.db"),
		},
		Dispatch: sfcfg.DispatchConfig{
			MaxAttempts: 4, BaseDelayMS: 1, MaxDelayMS: 4,
			UpstreamBaseDelayMS: 1, BreakerThreshold: 8, BreakerCooloffSeconds: 30,
		},
		Indicator: sfcfg.IndicatorConfig{Period: 14, Interval: "5m", CacheTTLSeconds: 60},
		Brokers:   sfcfg.BrokersConfig{Paper: sfcfg.PaperConfig{Enabled: true, StartingCash: 100000}},
	}
}

func testAccountSource() ingest.AccountSource {
	acct := accounts.Account{
		ID:      "acct-1",
		Broker:  "paper",
		Active:  true,
		Capital: 10000,
		Sizing:  sizing.Config{Method: sizing.MethodFixedFractional, RiskPct: 0.02},
		Eligibility: eligibility.Rules{
			Active:           true,
			MaxOpenPositions: 10,
		},
	}
	return staticAccounts{snap: accounts.Snapshot{
		Version:  1,
		Accounts: map[string]accounts.Account{"acct-1": acct},
	}}
}

func TestBuildWiresPaperVenue(t *testing.T) {
	b := NewAppBuilder(testConfig(t), WithAccountSource(testAccountSource()))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Ingestor())
	require.NotNil(t, a.Summary)
	assert.Equal(t, []string{"paper"}, a.Summary.Venues)
	assert.False(t, a.Summary.ATRWired)
	require.Len(t, a.Summary.Accounts, 1)
	assert.Equal(t, "acct-1", a.Summary.Accounts[0].ID)
}

func TestBuildEndToEndSignal(t *testing.T) {
	b := NewAppBuilder(testConfig(t), WithAccountSource(testAccountSource()))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	payload := []byte(`{"id":"sig-1","symbol":"RELIANCE-EQ","exchange":"NSE","side":"buy","entry_price":100,"stop_price":95}`)
	rep, err := a.Ingestor().Process(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Dispatched())

	orders, err := a.orders.Orders("acct-1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "sig-1", orders[0].SignalID)

	attempts, err := a.attempts.Attempts("sig-1", "acct-1")
	require.NoError(t, err)
	assert.NotEmpty(t, attempts)
}

func TestBuildRejectsNoBrokers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Brokers.Paper.Enabled = false
	b := NewAppBuilder(cfg, WithAccountSource(testAccountSource()))
	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers enabled")
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil)
	require.Error(t, err)
}

func TestBuildRoundTripPersistsClosedPosition(t *testing.T) {
	b := NewAppBuilder(testConfig(t), WithAccountSource(testAccountSource()))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	entry := []byte(`{"id":"sig-1","symbol":"RELIANCE-EQ","exchange":"NSE","side":"buy","entry_price":100,"stop_price":95}`)
	rep, err := a.Ingestor().Process(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Dispatched())

	exit := []byte(`{"id":"sig-2","symbol":"RELIANCE-EQ","exchange":"NSE","side":"sell","entry_price":110,"stop_price":115}`)
	rep, err = a.Ingestor().Process(context.Background(), exit)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Dispatched())

	closed, err := a.orders.ClosedPositions("acct-1")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "RELIANCE-EQ", closed[0].Symbol)
	assert.Equal(t, int64(40), closed[0].Quantity)
	assert.InDelta(t, 400, closed[0].RealizedPnL, 1e-9)

	assert.Equal(t, types.OutcomeWin, a.orders.LastOutcome("acct-1"))
}
