// Package strategy implements funding-rate differential detection and the
// theoretical profit model used to gate executions.
package strategy

import (
	"sort"
	"time"

	"funding-arb-bot/internal/arb"

	"go.uber.org/zap"
)

type Mode string

const (
	// ModeAll emits every pairing above the threshold (broad scan).
	ModeAll Mode = "all"
	// ModeBest emits only the single best pairing by net theoretical
	// profit after fees and slippage, and only if that profit is
	// strictly positive.
	ModeBest Mode = "best"
)

// CostModel carries the per-venue trading costs (percent of notional) the
// best-mode ranking uses. Venues missing from the maps fall back to the
// defaults.
type CostModel struct {
	NotionalUSD        float64
	Fees               map[string]float64
	Slippage           map[string]float64
	DefaultFeePct      float64
	DefaultSlippagePct float64
}

func (c CostModel) FeePct(venue string) float64 {
	if v, ok := c.Fees[venue]; ok {
		return v
	}
	return c.DefaultFeePct
}

func (c CostModel) SlippagePct(venue string) float64 {
	if v, ok := c.Slippage[venue]; ok {
		return v
	}
	return c.DefaultSlippagePct
}

// rateDiffTolerance absorbs float64 noise in the differential so a
// spread that equals the threshold on paper is not rejected
// (0.03 - 0.01 lands a hair under 0.02).
const rateDiffTolerance = 1e-12

type Detector struct {
	minDiff float64
	mode    Mode
	costs   CostModel
	log     *zap.Logger
}

func NewDetector(minDiff float64, mode Mode, costs CostModel, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if mode == "" {
		mode = ModeAll
	}
	return &Detector{minDiff: minDiff, mode: mode, costs: costs, log: log}
}

// Detect pairwise-compares the quote set and returns candidates whose
// short-minus-long differential meets the threshold. The lower-rate side
// is always the long leg, and both legs must sit on distinct venues.
// Input order does not matter; ties are broken by a stable sort so
// identical inputs produce identical output.
func (d *Detector) Detect(quotes []arb.Quote, now time.Time) []arb.Opportunity {
	sorted := make([]arb.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rate < sorted[j].Rate })

	var out []arb.Opportunity
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			low, high := sorted[i], sorted[j]
			if low.Venue == high.Venue {
				continue
			}
			diff := high.Rate - low.Rate
			if diff < d.minDiff-rateDiffTolerance {
				continue
			}
			opp := arb.Opportunity{
				LongVenue:         low.Venue,
				LongSymbol:        low.Symbol,
				ShortVenue:        high.Venue,
				ShortSymbol:       high.Symbol,
				RateDiff:          diff,
				TheoreticalProfit: diff,
				DetectedAt:        now,
			}
			out = append(out, opp)
			d.log.Debug("opportunity detected",
				zap.String("long", opp.LongKey()),
				zap.String("short", opp.ShortKey()),
				zap.Float64("rate_diff", diff),
			)
		}
	}
	if d.mode == ModeBest {
		return d.selectBest(out)
	}
	return out
}

func (d *Detector) selectBest(candidates []arb.Opportunity) []arb.Opportunity {
	best := -1
	bestNet := 0.0
	for i, opp := range candidates {
		net := EstimateTheoreticalPnL(opp, d.costs.NotionalUSD, map[string]float64{
			opp.LongVenue:  d.costs.FeePct(opp.LongVenue),
			opp.ShortVenue: d.costs.FeePct(opp.ShortVenue),
		}, map[string]float64{
			opp.LongVenue:  d.costs.SlippagePct(opp.LongVenue),
			opp.ShortVenue: d.costs.SlippagePct(opp.ShortVenue),
		})
		if net <= 0 {
			continue
		}
		if best < 0 || net > bestNet {
			best = i
			bestNet = net
		}
	}
	if best < 0 {
		return nil
	}
	return candidates[best : best+1]
}
