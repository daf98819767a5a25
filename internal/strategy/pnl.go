package strategy

import "funding-arb-bot/internal/arb"

// EstimateTheoreticalPnL returns the expected USD gain of holding the pair
// for one funding interval at the given notional: the funding differential
// earned minus fees and slippage paid on both legs. Fees and slippage are
// percent of notional keyed by venue.
func EstimateTheoreticalPnL(opp arb.Opportunity, notionalUSD float64, fees, slippage map[string]float64) float64 {
	earned := notionalUSD * (opp.RateDiff / 100)

	costs := notionalUSD * (fees[opp.LongVenue] / 100)
	costs += notionalUSD * (fees[opp.ShortVenue] / 100)
	costs += notionalUSD * (slippage[opp.LongVenue] / 100)
	costs += notionalUSD * (slippage[opp.ShortVenue] / 100)

	return earned - costs
}
