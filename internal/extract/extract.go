// Package extract reads a solved MILP's primal values back into Trade and
// Level rows (spec §4.E), including the price-reconstruction formulas that
// invert the objective's effect-fee terms. Grounded on
// chalmers_interface.py's extract_outputs_for_lec / add_agent_trade /
// calculate_estimated_*_price family.
package extract

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/horizon"
	"github.com/devskill-org/lec-sim/internal/milp"
	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/types"
)

// Result bundles everything one horizon's extraction produces.
type Result struct {
	Trades []types.Trade
	Levels []types.Level
}

// GridGUIDs identifies the community's external counterparties for
// electricity and heat (spec §4.E item 2, "the GridAgent's GUID").
type GridGUIDs struct {
	Electricity uuid.UUID
	Heat        uuid.UUID
}

// Extract implements spec §4.E for one solved horizon.
func Extract(
	hz *horizon.Horizon,
	vi *milp.VarIndex,
	values []float64,
	jobID string,
	grid GridGUIDs,
	elecPrice *pricing.ElectricityPriceModel,
	heatPrice *pricing.HeatPriceModel,
) Result {
	var res Result

	totalElecBought := sumOverHours(values, vi.PBuyMarket)
	totalHeatBought := sumOverHours(values, vi.HBuyMarket)

	for t := 0; t < hz.Hours; t++ {
		period := hz.Start.Add(time.Duration(t) * time.Hour)

		elecRetail, elecTaxShare, elecGridFeeShare := estimatedElecRetail(hz, values, vi, t, totalElecBought)
		elecWholesale := hz.NordpoolPrice[t] + hz.WholesaleOffset
		heatRetail := estimatedHeatRetail(hz, values, vi, totalHeatBought)

		for i, agent := range hz.Agents {
			emitTrade(&res, jobID, period, agent.GUID, types.Electricity, types.Local,
				values[vi.PBuyGrid[i][t]], values[vi.PSellGrid[i][t]], 0,
				elecRetail, elecWholesale, elecTaxShare, elecGridFeeShare)

			heatLoss := 0.0 // local heat trades are recorded with zero transfer loss
			emitTrade(&res, jobID, period, agent.GUID, types.HighTempHeat, types.Local,
				values[vi.HBuyGrid[i][t]], values[vi.HSellGrid[i][t]], heatLoss,
				heatRetail, math.NaN(), 0, 0)

			emitTrade(&res, jobID, period, agent.GUID, types.Cooling, types.Local,
				values[vi.CBuyGrid[i][t]], values[vi.CSellGrid[i][t]], 0,
				math.NaN(), math.NaN(), 0, 0)
		}

		emitExternalElecTrade(&res, jobID, period, grid.Electricity, values[vi.PBuyMarket[t]], values[vi.PSellMarket[t]], elecRetail, elecWholesale, elecTaxShare)
		emitExternalHeatTrade(&res, jobID, period, grid.Heat, values[vi.HBuyMarket[t]], heatRetail)

		if elecPrice != nil {
			elecPrice.RecordExternalSell(period, values[vi.PBuyMarket[t]], grid.Electricity)
		}
		if heatPrice != nil {
			heatPrice.RecordExternalSell(period, values[vi.HBuyMarket[t]], grid.Heat)
		}

		extractMetadata(&res, jobID, hz, vi, values, t, period)
	}

	return res
}

func sumOverHours(values []float64, col []int) float64 {
	sum := 0.0
	for _, c := range col {
		sum += values[c]
	}
	return sum
}

// estimatedElecRetail inverts the objective's effect-fee term (spec §4.E
// "Price reconstruction"): price = nordpool + transmission + tax +
// effect_fee_elec * avg_elec_peak_load / total_bought.
func estimatedElecRetail(hz *horizon.Horizon, values []float64, vi *milp.VarIndex, t int, totalBought float64) (price, taxPerKWh, gridFeePerKWh float64) {
	base := hz.NordpoolPrice[t] + hz.TransmissionFee + hz.Tax
	effectFeePerKWh := 0.0
	if totalBought > types.Epsilon() {
		effectFeePerKWh = hz.EffectFeeElec * values[vi.AvgElecPeakLoad] / totalBought
	}
	return base + effectFeePerKWh, hz.Tax, effectFeePerKWh + hz.TransmissionFee
}

// estimatedHeatRetail mirrors calculate_estimated_heating_retail_price.
func estimatedHeatRetail(hz *horizon.Horizon, values []float64, vi *milp.VarIndex, totalBought float64) float64 {
	effectFeePerKWh := 0.0
	if totalBought > types.Epsilon() {
		effectFeePerKWh = (hz.EffectFeeHeatPerDay / 24.0) * values[vi.MonthlyHeatPeakVar] / totalBought
	}
	return hz.ExternalHeatRetail + effectFeePerKWh
}

// emitTrade implements spec §4.E item 1: net = buy - sell, skip if below
// epsilon, otherwise one Trade with quantity_pre_loss derived from the loss
// fraction, priced at retail when buying and wholesale when selling.
func emitTrade(res *Result, jobID string, period time.Time, agentGUID uuid.UUID, resource types.Resource, market types.Market,
	buy, sell, loss float64, retail, wholesale float64, taxPerKWh, gridFeePerKWh float64) {
	net := buy - sell
	if math.Abs(net) <= types.Epsilon() {
		return
	}
	action := types.Sell
	price := wholesale
	if net > 0 {
		action = types.Buy
		price = retail
	}
	qtyPostLoss := math.Abs(net)
	qtyPreLoss := qtyPostLoss
	if action == types.Buy && loss < 1 {
		qtyPreLoss = qtyPostLoss / (1 - loss)
	}
	res.Trades = append(res.Trades, types.Trade{
		ID:               uuid.New(),
		JobID:            jobID,
		Period:           period,
		AgentGUID:        agentGUID,
		Action:           action,
		Resource:         resource,
		QuantityPostLoss: qtyPostLoss,
		QuantityPreLoss:  qtyPreLoss,
		Price:            price,
		ByExternal:       false,
		Market:           market,
		LossFraction:     loss,
		TaxPerKWh:        taxPerKWh,
		GridFeePerKWh:    gridFeePerKWh,
	})
}

func emitExternalElecTrade(res *Result, jobID string, period time.Time, gridGUID uuid.UUID, buyFromMarket, sellToMarket float64, retail, wholesale, taxPerKWh float64) {
	net := sellToMarket - buyFromMarket
	if math.Abs(net) <= types.Epsilon() {
		return
	}
	action := types.Buy
	price := wholesale
	if net < 0 {
		action = types.Sell
		price = retail
	}
	qty := math.Abs(net)
	res.Trades = append(res.Trades, types.Trade{
		ID:               uuid.New(),
		JobID:            jobID,
		Period:           period,
		AgentGUID:        gridGUID,
		Action:           action,
		Resource:         types.Electricity,
		QuantityPostLoss: qty,
		QuantityPreLoss:  qty,
		Price:            price,
		ByExternal:       true,
		Market:           types.External,
		TaxPerKWh:        taxPerKWh,
	})
}

func emitExternalHeatTrade(res *Result, jobID string, period time.Time, gridGUID uuid.UUID, buyFromMarket float64, retail float64) {
	if buyFromMarket <= types.Epsilon() {
		return
	}
	res.Trades = append(res.Trades, types.Trade{
		ID:               uuid.New(),
		JobID:            jobID,
		Period:           period,
		AgentGUID:        gridGUID,
		Action:           types.Sell,
		Resource:         types.HighTempHeat,
		QuantityPostLoss: buyFromMarket,
		QuantityPreLoss:  buyFromMarket,
		Price:            retail,
		ByExternal:       true,
		Market:           types.External,
	})
}

// extractMetadata implements spec §4.E item 3: for each (key, agent, period)
// pull and round the primal value. Summer/winter routes HP_HIGH_HEAT_PROD to
// the booster (summer) or main HP (winter), per chalmers_interface.py.
func extractMetadata(res *Result, jobID string, hz *horizon.Horizon, vi *milp.VarIndex, values []float64, t int, period time.Time) {
	round6 := func(v float64) float64 { return math.Round(v*1e6) / 1e6 }

	emit := func(key types.TradeMetadataKey, agentGUID uuid.UUID, val float64) {
		res.Levels = append(res.Levels, types.Level{JobID: jobID, Period: period, AgentGUID: agentGUID, MetadataKey: key, Value: round6(val)})
	}

	for i, agent := range hz.Agents {
		if hz.BatteryCapacity[i] > 0 {
			emit(types.BatterySOCKey, agent.GUID, values[vi.SOCBES[i][t]])
		}
		if hz.AccTankKWhPerDeg[i] > 0 {
			emit(types.AccTankSOCKey, agent.GUID, values[vi.SOCTES[i][t]])
		}
		if hz.BitesShallowCap[i] > 0 {
			emit(types.ShallowStorageRelKey, agent.GUID, values[vi.EnergyShallow[i][t]]/hz.BitesShallowCap[i])
			emit(types.ShallowStorageAbsKey, agent.GUID, values[vi.EnergyShallow[i][t]])
			emit(types.ShallowLossKey, agent.GUID, values[vi.LossShallow[i][t]])
			emit(types.ShallowChargeKey, agent.GUID, values[vi.HChaShallow[i][t]])
		}
		if hz.BitesDeepCap[i] > 0 {
			emit(types.DeepStorageRelKey, agent.GUID, values[vi.EnergyDeep[i][t]]/hz.BitesDeepCap[i])
			emit(types.DeepStorageAbsKey, agent.GUID, values[vi.EnergyDeep[i][t]])
			emit(types.DeepLossKey, agent.GUID, values[vi.LossDeep[i][t]])
			emit(types.FlowShallowToDeepKey, agent.GUID, values[vi.Flow[i][t]])
		}
		if hz.HPMaxElecIn[i] > 0 {
			emit(types.HPCoolProdKey, agent.GUID, values[vi.CHp[i][t]])
			if hz.SummerMode {
				emit(types.HPLowHeatProdKey, agent.GUID, values[vi.HHp[i][t]])
				if vi.HHpB != nil {
					emit(types.HPHighHeatProdKey, agent.GUID, values[vi.HHpB[i][t]])
				}
			} else {
				emit(types.HPHighHeatProdKey, agent.GUID, values[vi.HHp[i][t]])
			}
		}
		emit(types.HeatDumpKey, agent.GUID, values[vi.HeatDump[i][t]])
		emit(types.CoolDumpKey, agent.GUID, values[vi.CoolDump[i][t]])
	}

	emit(types.ChillerCoolKey, uuid.Nil, values[vi.CCc[t]])
	emit(types.ChillerHeatKey, uuid.Nil, values[vi.HCc[t]])
	emit(types.ChillerElecKey, uuid.Nil, values[vi.PCc[t]])
}
