package main

import (
	"testing"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decision(symbol string, pos models.Position, action strategy.Action) strategy.Decision {
	pos.Symbol = symbol
	return strategy.Decision{Symbol: symbol, Phase: pos.Phase(), Position: pos, Action: action}
}

func shortPut(n int) []models.ShortLeg {
	return []models.ShortLeg{{Contract: models.OptionContract{Symbol: "SPY", Strike: 95, Right: models.RightPut}, Quantity: -n}}
}

func warnings(hook *logtest.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestReconcile_RecordsState(t *testing.T) {
	store := storage.NewMockStorage()
	logger, _ := logtest.NewNullLogger()
	r := NewReconciler(store, logger)

	d := decision("SPY", models.Position{ShortPuts: shortPut(2)}, strategy.ActionIdle)
	d.Reason = "holding"
	expected, err := r.Reconcile(d, testNow)
	require.NoError(t, err)
	assert.True(t, expected)

	state, ok := store.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, models.PhaseShortPut, state.Phase)
	assert.Equal(t, 2, state.ShortPuts)
	assert.Equal(t, 0, state.ShortCalls)
	assert.Equal(t, "idle", state.LastAction)
	assert.Equal(t, "holding", state.LastReason)
	assert.Equal(t, 1, state.Cycles)
	assert.Nil(t, state.LastOrder)
}

func TestReconcile_TransitionAudit(t *testing.T) {
	tests := []struct {
		name     string
		from     models.Position
		to       models.Position
		expected bool
	}{
		{"put assigned", models.Position{ShortPuts: shortPut(1)}, models.Position{Shares: 100}, true},
		{"same phase", models.Position{Shares: 100}, models.Position{Shares: 100}, true},
		{"call sold", models.Position{Shares: 100}, models.Position{Shares: 100, ShortCalls: shortPut(1)}, true},
		{"shares sold manually", models.Position{Shares: 100}, models.Position{}, false},
		{"skipped assignment", models.Position{}, models.Position{Shares: 100}, false},
		{"put to call", models.Position{ShortPuts: shortPut(1)}, models.Position{Shares: 100, ShortCalls: shortPut(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMockStorage()
			logger, hook := logtest.NewNullLogger()
			r := NewReconciler(store, logger)

			_, err := r.Reconcile(decision("SPY", tt.from, strategy.ActionIdle), testNow)
			require.NoError(t, err)
			hook.Reset()

			expected, err := r.Reconcile(decision("SPY", tt.to, strategy.ActionIdle), testNow.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expected)
			if tt.expected {
				assert.Empty(t, warnings(hook))
			} else {
				require.Len(t, warnings(hook), 1)
				assert.Contains(t, warnings(hook)[0].Message, "UNEXPECTED PHASE TRANSITION")
			}

			state, _ := store.Get("SPY")
			assert.Equal(t, tt.to.Phase(), state.Phase)
			assert.Equal(t, 2, state.Cycles)
		})
	}
}

func TestReconcile_KeepsLastOrder(t *testing.T) {
	store := storage.NewMockStorage()
	logger, _ := logtest.NewNullLogger()
	r := NewReconciler(store, logger)

	d := decision("SPY", models.Position{}, strategy.ActionSellPut)
	d.Result = &models.OrderRecord{Description: "SELL 1 SPY put", OrderID: "42"}
	_, err := r.Reconcile(d, testNow)
	require.NoError(t, err)

	_, err = r.Reconcile(decision("SPY", models.Position{ShortPuts: shortPut(1)}, strategy.ActionIdle), testNow)
	require.NoError(t, err)

	state, _ := store.Get("SPY")
	require.NotNil(t, state.LastOrder)
	assert.Equal(t, "42", state.LastOrder.OrderID)
}

func TestReconcile_SkipsUnobservedPhase(t *testing.T) {
	store := storage.NewMockStorage()
	logger, _ := logtest.NewNullLogger()
	r := NewReconciler(store, logger)

	expected, err := r.Reconcile(strategy.Decision{Symbol: "SPY", Action: strategy.ActionIdle}, testNow)
	require.NoError(t, err)
	assert.True(t, expected)
	assert.Equal(t, 0, store.PutCalls())
}

func TestCheckStartup(t *testing.T) {
	store := storage.NewMockStorage()
	logger, hook := logtest.NewNullLogger()
	r := NewReconciler(store, logger)

	assert.Nil(t, r.CheckStartup([]string{"SPY"}))
	assert.Nil(t, r.CheckStartup([]string{"SPY"}))
	cold := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			cold++
		}
	}
	assert.Equal(t, 1, cold, "cold start is logged once")

	require.NoError(t, store.Put(models.SymbolState{Symbol: "SPY", Phase: models.PhaseShortPut}))
	require.NoError(t, store.Put(models.SymbolState{Symbol: "TSLA", Phase: models.PhaseLongShares}))
	require.NoError(t, store.Put(models.SymbolState{Symbol: "AAPL", Phase: models.PhaseNoPosition}))
	hook.Reset()

	stale := r.CheckStartup([]string{"spy"})
	assert.Equal(t, []string{"AAPL", "TSLA"}, stale)
	assert.Len(t, warnings(hook), 1)
}
