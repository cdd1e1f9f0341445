package pricing

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Grid-fee piecewise-linear schedule tiers, ported verbatim from
// tradingplatformpoc/price/heating_price.py (Varberg Energi district heating
// tariff, 2023 rate card).
const (
	gridFeeMarginalSub50   = 1116.0
	gridFeeFixedSub50      = 1152.0
	gridFeeMarginal50To100 = 1068.0
	gridFeeFixed50To100    = 3060.0
	gridFeeMarginal100To200 = 1020.0
	gridFeeFixed100To200    = 8148.0
	gridFeeMarginal200To400 = 972.0
	gridFeeFixed200To400    = 18348.0
	gridFeeMarginal400Plus  = 936.0
	gridFeeFixed400Plus     = 33696.0

	marginalPriceWinter = 0.5
	marginalPriceSummer = 0.3
)

// HeatPriceModel computes estimated/exact heat retail and wholesale prices
// (spec §4.B), tracking accumulated external sells per agent for the
// Jan-Feb grid fee and monthly peak-day effect fee.
type HeatPriceModel struct {
	WholesalePriceFraction float64 // exact_wholesale = exact_retail * fraction
	EffectFeePerKWDay      float64 // SEK/kW, applied to the month's peak-day avg kW

	sells                          []sellObservation
	lastExactRetailUsedFutureData bool
}

// NewHeatPriceModel constructs a heat price model.
func NewHeatPriceModel(wholesalePriceFraction, effectFeePerKWDay float64) *HeatPriceModel {
	return &HeatPriceModel{
		WholesalePriceFraction: wholesalePriceFraction,
		EffectFeePerKWDay:      effectFeePerKWDay,
	}
}

// RecordExternalSell registers kWh of heat sold by the external operator
// during the given hour.
func (m *HeatPriceModel) RecordExternalSell(period time.Time, kwh float64, agentGUID uuid.UUID) {
	m.sells = append(m.sells, sellObservation{period: period.UTC(), kwh: kwh, agentGUID: agentGUID})
}

// BaseMarginalPrice returns the "summer" (0.3) or "winter" (0.5) base
// marginal price for a calendar month; summer is May-September.
func BaseMarginalPrice(month time.Month) float64 {
	if month >= time.May && month <= time.September {
		return marginalPriceSummer
	}
	return marginalPriceWinter
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func daysInYear(year int) int {
	if isLeap(year) {
		return 366
	}
	return 365
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// marginalGridFeeAssumingTopBracket returns the marginal SEK/kWh cost of
// using 1 kWh during Jan-Feb, assuming the top consumption bracket.
func marginalGridFeeAssumingTopBracket(year int) float64 {
	hoursInJanFeb := 1416.0
	if isLeap(year) {
		hoursInJanFeb += 24
	}
	return gridFeeMarginal400Plus / hoursInJanFeb
}

// RetailPriceExclEffectFee is the base_marginal_price + (Jan-Feb grid-fee
// marginal, only for Jan/Feb months) component of the estimated retail
// price used inside the MILP objective (spec §4.D heat_price term).
func RetailPriceExclEffectFee(period time.Time) float64 {
	base := BaseMarginalPrice(period.Month())
	if period.Month() <= time.February {
		base += marginalGridFeeAssumingTopBracket(period.Year())
	}
	return base
}

func yearlyGridFee(janFebHourlyAvgKW float64) float64 {
	switch {
	case janFebHourlyAvgKW < 50:
		return gridFeeFixedSub50 + gridFeeMarginalSub50*janFebHourlyAvgKW
	case janFebHourlyAvgKW < 100:
		return gridFeeFixed50To100 + gridFeeMarginal50To100*janFebHourlyAvgKW
	case janFebHourlyAvgKW < 200:
		return gridFeeFixed100To200 + gridFeeMarginal100To200*janFebHourlyAvgKW
	case janFebHourlyAvgKW < 400:
		return gridFeeFixed200To400 + gridFeeMarginal200To400*janFebHourlyAvgKW
	default:
		return gridFeeFixed400Plus + gridFeeMarginal400Plus*janFebHourlyAvgKW
	}
}

// GridFeeForMonth spreads the Jan-Feb-derived yearly grid fee evenly across
// the year in proportion to days_in_month / days_in_year (spec §4.B ii).
func GridFeeForMonth(janFebHourlyAvgKW float64, year int, month time.Month) float64 {
	fractionOfYear := float64(daysInMonth(year, month)) / float64(daysInYear(year))
	return yearlyGridFee(janFebHourlyAvgKW) * fractionOfYear
}

// effectFeeForMonth is effect_fee_rate * peak_day_avg_kw (spec §4.B iii).
func (m *HeatPriceModel) effectFeeForMonth(peakDayAvgKW float64) float64 {
	return m.EffectFeePerKWDay * peakDayAvgKW
}

// GetEffectFeePerDay spreads the configured effect-fee rate evenly over a
// calendar day, the per-horizon figure the MILP objective needs (spec §4.D
// effect_fee_heat term): effect_fee / days_in_month.
func (m *HeatPriceModel) GetEffectFeePerDay(period time.Time) float64 {
	return m.EffectFeePerKWDay / float64(daysInMonth(period.Year(), period.Month()))
}

func (m *HeatPriceModel) sellsForMonth(year int, month time.Month, agentGUID *uuid.UUID) []sellObservation {
	ym := YearMonth{Year: year, Month: month}
	var out []sellObservation
	for _, s := range m.sells {
		if monthOf(s.period) != ym {
			continue
		}
		if agentGUID != nil && s.agentGUID != *agentGUID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// consumptionForMonth sums kWh sold in the given month.
func (m *HeatPriceModel) consumptionForMonth(year int, month time.Month, agentGUID *uuid.UUID) float64 {
	sum := 0.0
	for _, s := range m.sellsForMonth(year, month, agentGUID) {
		sum += s.kwh
	}
	return sum
}

// JanFebAverage returns the average hourly kW sold during the
// January-February window preceding `period`, and whether it had to fall
// back to the in-progress (future-relative) data because no prior Jan-Feb
// history existed yet (spec §9 Open Question: exposed as a distinct flag
// rather than silently returned).
func (m *HeatPriceModel) JanFebAverage(period time.Time, agentGUID *uuid.UUID) (avgKW float64, usedFutureData bool) {
	year := period.Year()
	if period.Month() > time.February {
		// nothing: we want the Jan-Feb that precedes this period's year boundary
	} else {
		year = period.Year() - 1
	}

	sells := append(m.sellsForMonth(year, time.January, agentGUID), m.sellsForMonth(year, time.February, agentGUID)...)
	if len(sells) == 0 {
		// "Cheat": fall back to whatever Jan/Feb data exists across all years.
		usedFutureData = true
		for _, s := range m.sells {
			if s.period.Month() > time.February {
				continue
			}
			if agentGUID != nil && s.agentGUID != *agentGUID {
				continue
			}
			sells = append(sells, s)
		}
	}
	if len(sells) == 0 {
		return 0, usedFutureData
	}
	sum := 0.0
	for _, s := range sells {
		sum += s.kwh
	}
	return sum / float64(len(sells)), usedFutureData
}

// peakDayAvgConsumptionKW finds the day in the month with the highest total
// heat sold, and returns that day's total divided by 24 (spec §4.B iii,
// GLOSSARY "Peak day").
func (m *HeatPriceModel) peakDayAvgConsumptionKW(year int, month time.Month, agentGUID *uuid.UUID) float64 {
	sells := m.sellsForMonth(year, month, agentGUID)
	if len(sells) == 0 {
		return 0
	}
	byDay := make(map[int]float64)
	for _, s := range sells {
		byDay[s.period.Day()] += s.kwh
	}
	best := 0.0
	for _, total := range byDay {
		if total > best {
			best = total
		}
	}
	return best / 24.0
}

// ExactRetail returns the exact post-hoc retail price (SEK/kWh) for a
// calendar month, and whether any consumption was recorded (spec §4.B).
func (m *HeatPriceModel) ExactRetail(year int, month time.Month, agentGUID *uuid.UUID) (float64, bool) {
	consumption := m.consumptionForMonth(year, month, agentGUID)
	if consumption <= 0 {
		return 0, false
	}
	janFebAvgKW, usedFutureData := m.JanFebAverage(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), agentGUID)
	peakDayAvgKW := m.peakDayAvgConsumptionKW(year, month, agentGUID)

	base := BaseMarginalPrice(month)
	effectFee := m.effectFeeForMonth(peakDayAvgKW)
	gridFee := GridFeeForMonth(janFebAvgKW, year, month)
	totalCost := base*consumption + effectFee + gridFee
	m.lastExactRetailUsedFutureData = usedFutureData
	return totalCost / consumption, true
}

// ExactRetailUsedFutureData reports whether the most recent call to
// ExactRetail had to fall back to the Jan-Feb "cheat" (no prior-year
// history yet), so callers can flag the resulting metadata accordingly.
func (m *HeatPriceModel) ExactRetailUsedFutureData() bool {
	return m.lastExactRetailUsedFutureData
}

// ExactWholesale returns the exact post-hoc wholesale price, NaN-equivalent
// (ok=false) encoded the same way as ExactRetail.
func (m *HeatPriceModel) ExactWholesale(year int, month time.Month, agentGUID *uuid.UUID) (float64, bool) {
	retail, ok := m.ExactRetail(year, month, agentGUID)
	if !ok {
		return 0, false
	}
	return retail * m.WholesalePriceFraction, true
}

// GetAvgPeakForMonth mirrors HeatingPrice.get_avg_peak_for_month: from the
// 5th of the month on it returns this month's peak-day average; before the
// 5th it returns the larger of that and 80% of the previous month's
// peak-day average.
func (m *HeatPriceModel) GetAvgPeakForMonth(period time.Time, agentGUID *uuid.UUID) float64 {
	peakThisMonth := m.peakDayAvgConsumptionKW(period.Year(), period.Month(), agentGUID)

	const atLeastNDays = 5
	if period.Day() >= atLeastNDays {
		return peakThisMonth
	}

	const scaleFactorForLastMonth = 0.8
	prevMonthRef := period.AddDate(0, 0, -(atLeastNDays + 1))
	peakLastMonth := m.peakDayAvgConsumptionKW(prevMonthRef.Year(), prevMonthRef.Month(), agentGUID)
	scaledLastMonth := peakLastMonth * scaleFactorForLastMonth

	if scaledLastMonth > peakThisMonth {
		return scaledLastMonth
	}
	return peakThisMonth
}

// sortedMonths is a small helper kept for callers that want a deterministic
// iteration order over recorded months.
func (m *HeatPriceModel) sortedMonths() []YearMonth {
	seen := make(map[YearMonth]bool)
	var months []YearMonth
	for _, s := range m.sells {
		ym := monthOf(s.period)
		if !seen[ym] {
			seen[ym] = true
			months = append(months, ym)
		}
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	return months
}

// MonthsWithSells returns every (year, month) for which at least one
// external sell was recorded, sorted chronologically.
func (m *HeatPriceModel) MonthsWithSells() []YearMonth {
	return m.sortedMonths()
}
