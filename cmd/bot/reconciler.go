package main

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/sirupsen/logrus"
)

// Reconciler keeps the persisted per-symbol state in step with what each
// cycle observed. Stored state is never used for decisions; it only lets the
// bot notice phase changes the wheel would not make on its own.
type Reconciler struct {
	storage       storage.Interface
	logger        logrus.FieldLogger
	coldStartOnce sync.Once
}

// NewReconciler creates a new phase reconciler
func NewReconciler(store storage.Interface, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		storage: store,
		logger:  logger.WithField("component", "reconciler"),
	}
}

// CheckStartup reports stored symbols that are no longer configured and
// returns them sorted.
func (r *Reconciler) CheckStartup(tickers []string) []string {
	states := r.storage.All()
	if len(states) == 0 {
		r.coldStartOnce.Do(func() {
			r.logger.Info("COLD START: no persisted state, live positions are authoritative")
		})
		return nil
	}

	configured := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		configured[strings.ToUpper(t)] = true
	}
	var stale []string
	for _, s := range states {
		if !configured[s.Symbol] {
			stale = append(stale, s.Symbol)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		r.logger.Warnf("Persisted state for unconfigured symbols %v; their positions will not be managed", stale)
	}
	return stale
}

// Reconcile records the cycle outcome and reports whether the phase change
// since the last recorded cycle is a normal wheel step. Decisions without an
// observed phase (session lost before classification) are not recorded.
func (r *Reconciler) Reconcile(d strategy.Decision, now time.Time) (bool, error) {
	if !d.Phase.Valid() {
		return true, nil
	}

	prev, found := r.storage.Get(d.Symbol)
	expected := true
	log := r.logger.WithField("symbol", d.Symbol)
	if found {
		expected = models.IsExpectedTransition(prev.Phase, d.Phase)
		if !expected {
			log.Warnf("UNEXPECTED PHASE TRANSITION: %s -> %s since %s (manual change or missed cycle)",
				prev.Phase, d.Phase, prev.UpdatedAt.Format(time.RFC3339))
		} else if prev.Phase == d.Phase && prev.Shares != d.Position.Shares {
			log.Infof("Share count changed %d -> %d", prev.Shares, d.Position.Shares)
		}
	}

	state := models.SymbolState{
		Symbol:     d.Symbol,
		Phase:      d.Phase,
		LastAction: string(d.Action),
		LastReason: d.Reason,
		Shares:     d.Position.Shares,
		ShortPuts:  contracts(d.Position.ShortPuts),
		ShortCalls: contracts(d.Position.ShortCalls),
		LastOrder:  prev.LastOrder,
		Cycles:     prev.Cycles + 1,
		UpdatedAt:  now.UTC(),
	}
	if d.Result != nil {
		state.LastOrder = d.Result
	}
	return expected, r.storage.Put(state)
}

func contracts(legs []models.ShortLeg) int {
	n := 0
	for _, l := range legs {
		n += l.Contracts()
	}
	return n
}
