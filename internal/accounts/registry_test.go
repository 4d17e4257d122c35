package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/sizing"
)

const fixture = `
accounts:
  acct-1:
    broker: kotakneo
    active: true
    capital: 100000
    margin_check: true
    sizing:
      method: fixed_fractional
      risk_pct: 0.02
    eligibility:
      active: true
      max_open_positions: 5
      min_risk_reward: 1.5
  acct-2:
    broker: paper
    active: false
    sizing:
      method: fixed_lot
      lot_size: 10
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsAccounts(t *testing.T) {
	r, err := NewRegistry(writeFixture(t, fixture))
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap.Accounts, 2)

	acct, ok := r.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "kotakneo", acct.Broker)
	assert.True(t, acct.Active)
	assert.Equal(t, sizing.MethodFixedFractional, acct.Sizing.Method)
	assert.InDelta(t, 0.02, acct.Sizing.RiskPct, 1e-9)
	assert.Equal(t, 5, acct.Eligibility.MaxOpenPositions)
}

func TestActiveFilterAndOrder(t *testing.T) {
	r, err := NewRegistry(writeFixture(t, fixture))
	require.NoError(t, err)

	active := r.Snapshot().Active()
	require.Len(t, active, 1)
	assert.Equal(t, "acct-1", active[0].ID)
}

func TestInactiveAccountSkipsSizingValidation(t *testing.T) {
	const inactiveBadSizing = `
accounts:
  acct-3:
    broker: paper
    active: false
    sizing:
      method: no_such_method
`
	r, err := NewRegistry(writeFixture(t, inactiveBadSizing))
	require.NoError(t, err)
	_, ok := r.Get("acct-3")
	assert.True(t, ok)
}

func TestActiveAccountWithBadSizingRejected(t *testing.T) {
	const activeBadSizing = `
accounts:
  acct-4:
    broker: paper
    active: true
    capital: 1000
    sizing:
      method: no_such_method
`
	_, err := NewRegistry(writeFixture(t, activeBadSizing))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acct-4")
}

func TestActiveAccountNeedsCapital(t *testing.T) {
	const noCapital = `
accounts:
  acct-5:
    broker: paper
    active: true
    sizing:
      method: fixed_lot
      lot_size: 1
`
	_, err := NewRegistry(writeFixture(t, noCapital))
	require.Error(t, err)
}

func TestDefaultBrokerIsPaper(t *testing.T) {
	const noBroker = `
accounts:
  acct-6:
    active: false
`
	r, err := NewRegistry(writeFixture(t, noBroker))
	require.NoError(t, err)
	acct, ok := r.Get("acct-6")
	require.True(t, ok)
	assert.Equal(t, "paper", acct.Broker)
}
