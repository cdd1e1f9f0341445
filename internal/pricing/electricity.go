// Package pricing implements the two price models of spec §4.B: electricity
// and heat, each exposing estimated (horizon-time) and exact (post-hoc)
// retail/wholesale prices, and each accumulating external-sell observations
// mutably so §4.F reconciliation can later recompute exact tariffs. Grounded
// on tradingplatformpoc/price/heating_price.py and the entsoe-derived
// nordpool handling in the teacher's scheduler/mpc.go (buildMPCForecast
// price conversions).
package pricing

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// YearMonth is an explicit record-structured key for calendar months, per
// spec §9's guidance against stringified map keys.
type YearMonth struct {
	Year  int
	Month time.Month
}

func monthOf(t time.Time) YearMonth {
	t = t.UTC()
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// sellObservation is one recorded external sale.
type sellObservation struct {
	period    time.Time
	kwh       float64
	agentGUID uuid.UUID
}

// ElectricityPriceModel computes estimated/exact electricity retail and
// wholesale prices (spec §4.B).
type ElectricityPriceModel struct {
	TransmissionFee float64 // SEK/kWh
	Tax             float64 // SEK/kWh
	WholesaleOffset float64 // SEK/kWh, added to nordpool spot for wholesale
	EffectFeePerKW  float64 // monthly peak-effect fee, SEK/kW

	InternalTax             float64
	InternalTransmissionFee float64

	nordpoolByHour map[time.Time]float64
	sells          []sellObservation
}

// NewElectricityPriceModel constructs a model with the given tariff scalars.
func NewElectricityPriceModel(transmissionFee, tax, wholesaleOffset, effectFeePerKW, internalTax, internalTransmissionFee float64) *ElectricityPriceModel {
	return &ElectricityPriceModel{
		TransmissionFee:         transmissionFee,
		Tax:                     tax,
		WholesaleOffset:         wholesaleOffset,
		EffectFeePerKW:          effectFeePerKW,
		InternalTax:             internalTax,
		InternalTransmissionFee: internalTransmissionFee,
		nordpoolByHour:          make(map[time.Time]float64),
	}
}

// SetNordpoolPrice records the exogenous hourly spot price for one hour.
func (m *ElectricityPriceModel) SetNordpoolPrice(period time.Time, spot float64) {
	m.nordpoolByHour[period.UTC()] = spot
}

// NordpoolPrice returns the spot price for an hour, or 0 if unknown.
func (m *ElectricityPriceModel) NordpoolPrice(period time.Time) float64 {
	return m.nordpoolByHour[period.UTC()]
}

// EstimatedRetail is the horizon-time forecast retail price the LP uses,
// excluding the peak-effect-fee term (which the MILP adds itself via the
// avg_top3_peak_kW decision variable, see internal/milp and internal/extract
// for the reconstruction of the per-kWh price after solve).
func (m *ElectricityPriceModel) EstimatedRetail(period time.Time, internal bool) float64 {
	transmission, tax := m.TransmissionFee, m.Tax
	if internal {
		transmission, tax = m.InternalTransmissionFee, m.InternalTax
	}
	return m.NordpoolPrice(period) + transmission + tax
}

// EstimatedWholesale is the horizon-time forecast wholesale (sell) price.
func (m *ElectricityPriceModel) EstimatedWholesale(period time.Time) float64 {
	return m.NordpoolPrice(period) + m.WholesaleOffset
}

// RecordExternalSell registers kWh sold by the external operator during the
// given hour, attributed to agentGUID (may be the nil UUID for community
// aggregate bookkeeping). Must be called from exactly one place (the primal
// extractor) per spec §5.
func (m *ElectricityPriceModel) RecordExternalSell(period time.Time, kwh float64, agentGUID uuid.UUID) {
	m.sells = append(m.sells, sellObservation{period: period.UTC(), kwh: kwh, agentGUID: agentGUID})
}

func (m *ElectricityPriceModel) sellsForMonth(ym YearMonth, agentGUID *uuid.UUID) []sellObservation {
	var out []sellObservation
	for _, s := range m.sells {
		sm := monthOf(s.period)
		if sm != ym {
			continue
		}
		if agentGUID != nil && s.agentGUID != *agentGUID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// top3AvgPeakKW returns the average of the top-3 hourly sold kW in the
// month, 0 if there is no data.
func top3AvgPeakKW(sells []sellObservation) float64 {
	if len(sells) == 0 {
		return 0
	}
	vals := make([]float64, len(sells))
	for i, s := range sells {
		vals[i] = s.kwh
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	n := len(vals)
	if n > 3 {
		n = 3
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += vals[i]
	}
	return sum / float64(n)
}

// ExactRetail is the post-hoc exact retail price for a calendar month,
// using the accumulated external sells to compute the realised top-3 peak
// effect fee. Returns (price, ok): ok is false when no consumption was
// recorded that month (no NaN smuggling, spec §9).
func (m *ElectricityPriceModel) ExactRetail(year int, month time.Month, internal bool) (float64, bool) {
	ym := YearMonth{Year: year, Month: month}
	sells := m.sellsForMonth(ym, nil)
	totalKWh := 0.0
	for _, s := range sells {
		totalKWh += s.kwh
	}
	if totalKWh <= 0 {
		return 0, false
	}

	transmission, tax := m.TransmissionFee, m.Tax
	if internal {
		transmission, tax = m.InternalTransmissionFee, m.InternalTax
	}

	avgTop3PeakKW := top3AvgPeakKW(sells)
	effectFeePerKWh := m.EffectFeePerKW * avgTop3PeakKW / totalKWh

	avgSpot := m.avgNordpoolForMonth(ym)
	return avgSpot + transmission + tax + effectFeePerKWh, true
}

// ExactWholesale is the post-hoc exact wholesale price for a month.
func (m *ElectricityPriceModel) ExactWholesale(year int, month time.Month) (float64, bool) {
	ym := YearMonth{Year: year, Month: month}
	sells := m.sellsForMonth(ym, nil)
	if len(sells) == 0 {
		return 0, false
	}
	return m.avgNordpoolForMonth(ym) + m.WholesaleOffset, true
}

func (m *ElectricityPriceModel) avgNordpoolForMonth(ym YearMonth) float64 {
	sum, n := 0.0, 0
	for period, spot := range m.nordpoolByHour {
		if monthOf(period) == ym {
			sum += spot
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Top3AvgPeakKWForMonth exposes the realised peak-kW figure for a month
// (the average of the month's three highest hourly external sells).
func (m *ElectricityPriceModel) Top3AvgPeakKWForMonth(year int, month time.Month) float64 {
	return top3AvgPeakKW(m.sellsForMonth(YearMonth{Year: year, Month: month}, nil))
}
