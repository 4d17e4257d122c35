package eligibility

import (
	"testing"

	"signalflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSignal() types.Signal {
	return types.Signal{
		ID:          "sig-1",
		Symbol:      "RELIANCE",
		Side:        types.SideBuy,
		EntryPrice:  100,
		StopPrice:   95,
		TargetPrice: 115,
	}
}

func activeRules() *Rules {
	return &Rules{Active: true, MaxOpenPositions: 5}
}

func TestMissingRulesIsHardError(t *testing.T) {
	_, err := Evaluate(baseSignal(), types.AccountState{AccountID: "a"}, nil)
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestInactiveAccount(t *testing.T) {
	rules := activeRules()
	rules.Active = false

	v, err := Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reason, "inactive")
}

func TestMaxOpenPositions(t *testing.T) {
	v, err := Evaluate(baseSignal(), types.AccountState{OpenPositions: 5}, activeRules())
	require.NoError(t, err)
	assert.False(t, v.Eligible)

	v, err = Evaluate(baseSignal(), types.AccountState{OpenPositions: 4}, activeRules())
	require.NoError(t, err)
	assert.True(t, v.Eligible)
}

func TestCapitalFloor(t *testing.T) {
	rules := activeRules()
	rules.MinCapital = 5000

	v, err := Evaluate(baseSignal(), types.AccountState{Capital: 4000}, rules)
	require.NoError(t, err)
	assert.False(t, v.Eligible)
}

func TestSymbolLists(t *testing.T) {
	rules := activeRules()
	rules.Blacklist = []string{"reliance"}
	v, err := Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.False(t, v.Eligible, "blacklist is case-insensitive")

	rules = activeRules()
	rules.Whitelist = []string{"TCS", "INFY"}
	v, err = Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.False(t, v.Eligible)

	rules.Whitelist = append(rules.Whitelist, "RELIANCE")
	v, err = Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.True(t, v.Eligible)
}

func TestRiskRewardFloor(t *testing.T) {
	rules := activeRules()
	rules.MinRiskReward = 2

	// (115-100)/(100-95) = 3, passes.
	v, err := Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.True(t, v.Eligible)

	rules.MinRiskReward = 4
	v, err = Evaluate(baseSignal(), types.AccountState{}, rules)
	require.NoError(t, err)
	assert.False(t, v.Eligible)
}

func TestRiskRewardSellDirection(t *testing.T) {
	rules := activeRules()
	rules.MinRiskReward = 2

	sig := types.Signal{
		ID: "sig-2", Symbol: "TCS", Side: types.SideSell,
		EntryPrice: 100, StopPrice: 105, TargetPrice: 88,
	}
	// (100-88)/(105-100) = 2.4, passes.
	v, err := Evaluate(sig, types.AccountState{}, rules)
	require.NoError(t, err)
	assert.True(t, v.Eligible)
}

func TestRiskRewardUnevaluable(t *testing.T) {
	rules := activeRules()
	rules.MinRiskReward = 2

	sig := baseSignal()
	sig.TargetPrice = 0
	_, err := Evaluate(sig, types.AccountState{}, rules)
	assert.ErrorIs(t, err, ErrUnevaluable)

	// Stop on the wrong side of entry cannot be scored either.
	sig = baseSignal()
	sig.StopPrice = 110
	_, err = Evaluate(sig, types.AccountState{}, rules)
	assert.ErrorIs(t, err, ErrUnevaluable)
}
