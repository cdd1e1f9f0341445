package milp

import (
	"math"

	"github.com/devskill-org/lec-sim/internal/horizon"
)

const (
	// DumpPenalty is the per-kWh cost assigned to heat_dump/cool_dump sink
	// variables, large enough that the solver only uses them when no other
	// feasible allocation exists (spec §4.D objective, "M=1000").
	DumpPenalty = 1000.0

	// PercHTCoverableByLT is the share of high-temperature (hot water)
	// demand summer mode can satisfy via the low-temperature HP path before
	// the booster HP has to cover the rest (spec §4.D constraint family 2).
	PercHTCoverableByLT = 0.6

	klossShallow = 0.9913
	klossDeep    = 0.9963
)

// VarIndex records the model-variable index for every named decision
// variable, keyed the way the horizon indexes agents and hours, so the
// extractor can read primal values back by name instead of re-deriving
// indices (mirrors chalmers_interface.py's getattr(model, variable_name)
// lookups, done here with typed slices instead of string reflection).
type VarIndex struct {
	PBuyGrid, PSellGrid   [][]int
	UBuySell              [][]int
	HBuyGrid, HSellGrid   [][]int
	CBuyGrid, CSellGrid   [][]int
	PCha, PDis            [][]int
	SOCBES                [][]int
	PHp, HHp, CHp         [][]int
	HTESCha, HTESDis      [][]int
	SOCTES                [][]int
	EnergyShallow         [][]int
	EnergyDeep            [][]int
	HChaShallow           [][]int
	Flow                  [][]int
	LossShallow, LossDeep [][]int
	HHpB, PHpB            [][]int // summer-only, nil otherwise
	HeatDump, CoolDump    [][]int

	PBuyMarket, PSellMarket, HBuyMarket []int // per t
	PCc, HCc, CCc                       []int // per t, centralized chiller

	AvgElecPeakLoad     int // auxiliary var, community-wide scalar
	MonthlyHeatPeakVar  int
}

func newIdxMatrix(n, h int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, h)
	}
	return m
}

// Build constructs the MILP for one horizon. Summer or winter mode is fixed
// for the whole horizon: hz.SummerMode is read once per horizon and selects
// which constraint variant each family emits (spec §4.D "State machine:
// summer vs winter").
func Build(hz *horizon.Horizon, params horizon.Params) (*Model, *VarIndex, error) {
	n := len(hz.Agents)
	h := hz.Hours
	m := NewModel()
	vi := &VarIndex{
		PBuyGrid: newIdxMatrix(n, h), PSellGrid: newIdxMatrix(n, h),
		UBuySell: newIdxMatrix(n, h),
		HBuyGrid: newIdxMatrix(n, h), HSellGrid: newIdxMatrix(n, h),
		CBuyGrid: newIdxMatrix(n, h), CSellGrid: newIdxMatrix(n, h),
		PCha: newIdxMatrix(n, h), PDis: newIdxMatrix(n, h),
		SOCBES: newIdxMatrix(n, h),
		PHp:    newIdxMatrix(n, h), HHp: newIdxMatrix(n, h), CHp: newIdxMatrix(n, h),
		HTESCha: newIdxMatrix(n, h), HTESDis: newIdxMatrix(n, h),
		SOCTES:       newIdxMatrix(n, h),
		EnergyShallow: newIdxMatrix(n, h), EnergyDeep: newIdxMatrix(n, h),
		HChaShallow: newIdxMatrix(n, h), Flow: newIdxMatrix(n, h),
		LossShallow: newIdxMatrix(n, h), LossDeep: newIdxMatrix(n, h),
		HeatDump: newIdxMatrix(n, h), CoolDump: newIdxMatrix(n, h),
		PBuyMarket: make([]int, h), PSellMarket: make([]int, h), HBuyMarket: make([]int, h),
		PCc: make([]int, h), HCc: make([]int, h), CCc: make([]int, h),
	}
	if hz.SummerMode {
		vi.HHpB = newIdxMatrix(n, h)
		vi.PHpB = newIdxMatrix(n, h)
	}

	addVars(m, vi, hz, n, h)

	vi.AvgElecPeakLoad = m.AddVar("avg_elec_peak_load", 0, math.Inf(1), Continuous)
	vi.MonthlyHeatPeakVar = m.AddVar("monthly_heat_peak_energy", 0, math.Inf(1), Continuous)

	addObjective(m, vi, hz, params, n, h)

	addGridExclusionConstraints(m, vi, hz, params, n, h)
	addBalanceConstraints(m, vi, hz, params, n, h)
	addCommunityBalanceConstraints(m, vi, hz, n, h)
	addBitesConstraints(m, vi, hz, n, h)
	addBatteryConstraints(m, vi, hz, params, n, h)
	addAccTankConstraints(m, vi, hz, params, n, h)
	addHeatPumpConstraints(m, vi, hz, n, h)
	addPeakLoadConstraints(m, vi, hz, params, n, h)
	addChillerConstraints(m, vi, hz, params, h)

	return m, vi, nil
}

func addVars(m *Model, vi *VarIndex, hz *horizon.Horizon, n, h int) {
	inf := math.Inf(1)
	for i := 0; i < n; i++ {
		for t := 0; t < h; t++ {
			vi.PBuyGrid[i][t] = m.AddVar("Pbuy_grid", 0, inf, Continuous)
			vi.PSellGrid[i][t] = m.AddVar("Psell_grid", 0, inf, Continuous)
			vi.UBuySell[i][t] = m.AddVar("U_buy_sell", 0, 1, Binary)
			vi.HBuyGrid[i][t] = m.AddVar("Hbuy_grid", 0, inf, Continuous)
			vi.HSellGrid[i][t] = m.AddVar("Hsell_grid", 0, inf, Continuous)
			vi.CBuyGrid[i][t] = m.AddVar("Cbuy_grid", 0, inf, Continuous)
			vi.CSellGrid[i][t] = m.AddVar("Csell_grid", 0, inf, Continuous)
			vi.PCha[i][t] = m.AddVar("Pcha", 0, inf, Continuous)
			vi.PDis[i][t] = m.AddVar("Pdis", 0, inf, Continuous)
			vi.SOCBES[i][t] = m.AddVar("SOCBES", 0, 1, Continuous)
			vi.PHp[i][t] = m.AddVar("Php", 0, inf, Continuous)
			vi.HHp[i][t] = m.AddVar("Hhp", 0, inf, Continuous)
			vi.CHp[i][t] = m.AddVar("Chp", 0, inf, Continuous)
			vi.HTESCha[i][t] = m.AddVar("HTEScha", 0, inf, Continuous)
			vi.HTESDis[i][t] = m.AddVar("HTESdis", 0, inf, Continuous)
			vi.SOCTES[i][t] = m.AddVar("SOCTES", 0, 1, Continuous)
			vi.EnergyShallow[i][t] = m.AddVar("Energy_shallow", 0, inf, Continuous)
			vi.EnergyDeep[i][t] = m.AddVar("Energy_deep", 0, inf, Continuous)
			vi.HChaShallow[i][t] = m.AddVar("Hcha_shallow", math.Inf(-1), inf, Continuous)
			vi.Flow[i][t] = m.AddVar("Flow", math.Inf(-1), inf, Continuous)
			vi.LossShallow[i][t] = m.AddVar("Loss_shallow", 0, inf, Continuous)
			vi.LossDeep[i][t] = m.AddVar("Loss_deep", 0, inf, Continuous)
			vi.HeatDump[i][t] = m.AddVar("heat_dump", 0, inf, Continuous)
			vi.CoolDump[i][t] = m.AddVar("cool_dump", 0, inf, Continuous)
			if hz.SummerMode {
				vi.HHpB[i][t] = m.AddVar("HhpB", 0, inf, Continuous)
				vi.PHpB[i][t] = m.AddVar("PhpB", 0, inf, Continuous)
			}
		}
	}
	for t := 0; t < h; t++ {
		vi.PBuyMarket[t] = m.AddVar("Pbuy_market", 0, inf, Continuous)
		vi.PSellMarket[t] = m.AddVar("Psell_market", 0, inf, Continuous)
		vi.HBuyMarket[t] = m.AddVar("Hbuy_market", 0, inf, Continuous)
		vi.PCc[t] = m.AddVar("Pcc", 0, inf, Continuous)
		vi.HCc[t] = m.AddVar("Hcc", 0, inf, Continuous)
		vi.CCc[t] = m.AddVar("Ccc", 0, inf, Continuous)
	}
}

// addObjective implements spec §4.D's Objective exactly: community-wide
// market trade cost/revenue, heat purchase cost, tax/transmission on
// imports, the two effect-fee auxiliary terms, and the dump penalty.
func addObjective(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	for t := 0; t < h; t++ {
		nordpool := hz.NordpoolPrice[t]
		m.AddToObjective(vi.PBuyMarket[t], nordpool+hz.TransmissionFee+hz.Tax)
		m.AddToObjective(vi.PSellMarket[t], -(nordpool + hz.WholesaleOffset))
		m.AddToObjective(vi.HBuyMarket[t], hz.ExternalHeatRetail)
		for i := 0; i < n; i++ {
			m.AddToObjective(vi.HeatDump[i][t], DumpPenalty)
			m.AddToObjective(vi.CoolDump[i][t], DumpPenalty)
		}
	}
	m.AddToObjective(vi.AvgElecPeakLoad, hz.EffectFeeElec)
	m.AddToObjective(vi.MonthlyHeatPeakVar, hz.EffectFeeHeatPerDay/24.0)
}

// addPeakLoadConstraints ties the two effect-fee auxiliary variables to
// every hour's community-wide import, so the objective's linear penalty
// forces them to their true peak (spec §4.D "auxiliary variables ...
// constrained to be >= each hourly import aggregated over the community").
func addPeakLoadConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	for t := 0; t < h; t++ {
		eq := NewEq()
		eq.add(vi.AvgElecPeakLoad, 1)
		eq.add(vi.PBuyMarket[t], -1)
		m.AddConstraint("avg_elec_peak_load_ge_hour", eq, GE, 0)

		eq2 := NewEq()
		eq2.add(vi.MonthlyHeatPeakVar, 1)
		eq2.add(vi.HBuyMarket[t], -1)
		m.AddConstraint("monthly_heat_peak_ge_hour", eq2, GE, 0)
	}
}

// addGridExclusionConstraints caps inter-agent and external transfer
// variables. When params.LocalMarketEnabled is false (spec §4.D "otherwise
// one model per agent with no i"), the inter-agent caps collapse to zero so
// every agent clears exclusively against the external market; the community
// balance constraints then route all local supply/demand through
// Pbuy_market/Psell_market/Hbuy_market instead of the local bus.
func addGridExclusionConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	elecCap := params.MaxElecTransferBetweenAgents
	heatCap := params.MaxHeatTransferBetweenAgents
	if !params.LocalMarketEnabled {
		elecCap = 0
		heatCap = 0
	}
	for i := 0; i < n; i++ {
		for t := 0; t < h; t++ {
			eqBuy := NewEq()
			eqBuy.add(vi.PBuyGrid[i][t], 1)
			eqBuy.add(vi.UBuySell[i][t], -elecCap)
			m.AddConstraint("max_Pbuy_grid", eqBuy, LE, 0)

			eqSell := NewEq()
			eqSell.add(vi.PSellGrid[i][t], 1)
			eqSell.add(vi.UBuySell[i][t], elecCap)
			m.AddConstraint("max_Psell_grid", eqSell, LE, elecCap)

			eqHbuy := NewEq()
			eqHbuy.add(vi.HBuyGrid[i][t], 1)
			m.AddConstraint("max_Hbuy_grid", eqHbuy, LE, heatCap)

			eqHsell := NewEq()
			eqHsell.add(vi.HSellGrid[i][t], 1)
			if hz.SummerMode {
				m.AddConstraint("max_Hsell_grid_summer", eqHsell, LE, heatCap)
			} else {
				m.AddConstraint("max_Hsell_grid_winter", eqHsell, LE, 0)
			}
		}
	}
	for t := 0; t < h; t++ {
		eqM := NewEq()
		eqM.add(vi.PBuyMarket[t], 1)
		m.AddConstraint("max_Pbuy_market", eqM, LE, params.MaxElecTransferToExternal)
		eqM2 := NewEq()
		eqM2.add(vi.PSellMarket[t], 1)
		m.AddConstraint("max_Psell_market", eqM2, LE, params.MaxElecTransferToExternal)
		eqM3 := NewEq()
		eqM3.add(vi.HBuyMarket[t], 1)
		m.AddConstraint("max_Hbuy_market", eqM3, LE, params.MaxHeatTransferToExternal)
	}
}

// addBalanceConstraints implements constraint families 1-3 of spec §4.D:
// electricity, high-temp heat, and cooling balance, each instantiated in
// its summer or winter form.
func addBalanceConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	for i := 0; i < n; i++ {
		hasAccTank := hz.AccTankKWhPerDeg[i] > 0
		for t := 0; t < h; t++ {
			pv := hz.Electricity.Supply[i][t]
			pDem := hz.Electricity.Demand[i][t]

			// 1. electricity balance
			eqP := NewEq()
			eqP.add(vi.PDis[i][t], 1)
			eqP.add(vi.PBuyGrid[i][t], 1)
			eqP.add(vi.PHp[i][t], -1)
			eqP.add(vi.PCha[i][t], -1)
			eqP.add(vi.PSellGrid[i][t], -1)
			if hz.SummerMode {
				eqP.add(vi.PHpB[i][t], -1)
				m.AddConstraint("agent_Pbalance_summer", eqP, EQ, pDem-pv)
			} else {
				m.AddConstraint("agent_Pbalance_winter", eqP, EQ, pDem-pv)
			}

			// 2. high-temp heat balance
			hotWater := hz.HighHeat.Demand[i][t] // Hhw
			spaceHeat := hz.LowHeat.Demand[i][t]  // Hsh
			excessHeat := hz.HighHeat.Supply[i][t]

			eqH := NewEq()
			eqH.add(vi.HBuyGrid[i][t], 1)
			eqH.add(vi.HHp[i][t], 1)
			eqH.add(vi.HSellGrid[i][t], -1)
			eqH.add(vi.HChaShallow[i][t], -1)
			eqH.add(vi.HeatDump[i][t], -1)
			if hz.SummerMode {
				eqH.add(vi.HTESCha[i][t], -PercHTCoverableByLT)
				rhs := spaceHeat - excessHeat
				if !hasAccTank {
					rhs = spaceHeat + PercHTCoverableByLT*hotWater - excessHeat
				}
				m.AddConstraint("agent_Hbalance_summer", eqH, EQ, rhs)
			} else {
				eqH.add(vi.HTESCha[i][t], -1)
				rhs := spaceHeat
				if !hasAccTank {
					rhs = spaceHeat + hotWater
				}
				m.AddConstraint("agent_Hbalance_winter", eqH, EQ, rhs)
			}

			if hasAccTank {
				eqHw := NewEq()
				eqHw.add(vi.HTESDis[i][t], 1)
				m.AddConstraint("Hhw_supplied_by_HTES", eqHw, EQ, hotWater)
			}

			// 3. cooling balance
			coolDemand := hz.Cooling.Demand[i][t]
			eqC := NewEq()
			eqC.add(vi.CBuyGrid[i][t], 1)
			eqC.add(vi.CHp[i][t], 1)
			eqC.add(vi.CSellGrid[i][t], -1)
			eqC.add(vi.CoolDump[i][t], -1)
			if hz.SummerMode {
				m.AddConstraint("agent_Cbalance_summer", eqC, EQ, coolDemand)
			} else {
				rhs := coolDemand
				if hz.HasBorehole[i] {
					rhs = 0
				}
				m.AddConstraint("agent_Cbalance_winter", eqC, EQ, rhs)
			}

			if hz.SummerMode {
				eqBst := NewEq()
				eqBst.add(vi.HHpB[i][t], 1)
				if hasAccTank {
					eqBst.add(vi.HTESCha[i][t], -(1 - PercHTCoverableByLT))
					m.AddConstraint("HTES_supplied_by_Bhp", eqBst, EQ, 0)
				} else {
					m.AddConstraint("HTES_supplied_by_Bhp", eqBst, EQ, (1-PercHTCoverableByLT)*hotWater)
				}
			}
		}
	}
}

// addCommunityBalanceConstraints implements the per-hour local-bus balance
// that ties every agent's inter-agent trade variables to the community's
// external-market variables and the centralized chiller, one equation per
// resource per hour (spec §4.D "CEMS" balance). Without it, P_buy_grid/
// H_buy_grid/C_buy_grid are unconstrained inflows with no counterparty.
//
// Electricity: what agents sell onto the bus plus what the community buys
// from the grid must equal what agents buy off the bus plus what the
// community sells to the grid plus the chiller's electricity draw.
//
// Heat: agents only ever sell heat onto the bus in summer (no external heat
// market to sell into), so the bus's only external inflow is Hbuy_market
// plus the chiller's recovered heat; agents' Hbuy_grid is the only outflow.
//
// Cooling: no external cooling market exists (spec Open Question resolved:
// cooling never crosses the community boundary), so the bus balances purely
// between agents' Csell_grid/Cbuy_grid and the chiller's cooling output.
func addCommunityBalanceConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, n, h int) {
	for t := 0; t < h; t++ {
		eqP := NewEq()
		for i := 0; i < n; i++ {
			eqP.add(vi.PSellGrid[i][t], 1)
			eqP.add(vi.PBuyGrid[i][t], -1)
		}
		eqP.add(vi.PBuyMarket[t], 1)
		eqP.add(vi.PSellMarket[t], -1)
		eqP.add(vi.PCc[t], -1)
		m.AddConstraint("community_Pbalance", eqP, EQ, 0)

		eqH := NewEq()
		for i := 0; i < n; i++ {
			eqH.add(vi.HSellGrid[i][t], 1)
			eqH.add(vi.HBuyGrid[i][t], -1)
		}
		eqH.add(vi.HBuyMarket[t], 1)
		eqH.add(vi.HCc[t], 1)
		m.AddConstraint("community_Hbalance", eqH, EQ, 0)

		eqC := NewEq()
		for i := 0; i < n; i++ {
			eqC.add(vi.CSellGrid[i][t], 1)
			eqC.add(vi.CBuyGrid[i][t], -1)
		}
		eqC.add(vi.CCc[t], 1)
		m.AddConstraint("community_Cbalance", eqC, EQ, 0)
	}
}

// addBitesConstraints implements constraint family 4 (BITES two-layer
// dynamics) over the full horizon, carrying the agent's initial shallow/deep
// energy into hour 0 (spec §4.D family 4, §4.G storage carry-over).
func addBitesConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, n, h int) {
	for i := 0; i < n; i++ {
		shallowCap := hz.BitesShallowCap[i]
		deepCap := hz.BitesDeepCap[i]
		kval := hz.BitesInterLayerK[i]
		maxShallowRate := hz.BitesMaxShallowRate[i]

		for t := 0; t < h; t++ {
			eqS := NewEq()
			eqS.add(vi.EnergyShallow[i][t], 1)
			eqS.add(vi.HChaShallow[i][t], -1)
			eqS.add(vi.Flow[i][t], 1)
			eqS.add(vi.LossShallow[i][t], 1)
			if t == 0 {
				m.AddConstraint("BITES_Eshallow_balance", eqS, EQ, hz.ShallowEnergy0[i])
			} else {
				eqS.add(vi.EnergyShallow[i][t-1], -1)
				m.AddConstraint("BITES_Eshallow_balance", eqS, EQ, 0)
			}

			eqD := NewEq()
			eqD.add(vi.EnergyDeep[i][t], 1)
			eqD.add(vi.Flow[i][t], -1)
			eqD.add(vi.LossDeep[i][t], 1)
			if t == 0 {
				m.AddConstraint("BITES_Edeep_balance", eqD, EQ, hz.DeepEnergy0[i])
			} else {
				eqD.add(vi.EnergyDeep[i][t-1], -1)
				m.AddConstraint("BITES_Edeep_balance", eqD, EQ, 0)
			}

			if shallowCap > 0 && deepCap > 0 {
				eqF := NewEq()
				eqF.add(vi.Flow[i][t], 1)
				eqF.add(vi.EnergyShallow[i][t], -kval/shallowCap)
				eqF.add(vi.EnergyDeep[i][t], kval/deepCap)
				m.AddConstraint("BITES_Eflow_between_storages", eqF, EQ, 0)
			} else {
				eqF := NewEq()
				eqF.add(vi.Flow[i][t], 1)
				m.AddConstraint("BITES_Eflow_between_storages", eqF, EQ, 0)
			}

			if t == 0 {
				eqLs := NewEq()
				eqLs.add(vi.LossShallow[i][t], 1)
				m.AddConstraint("BITES_shallow_loss", eqLs, EQ, 0)
				eqLd := NewEq()
				eqLd.add(vi.LossDeep[i][t], 1)
				m.AddConstraint("BITES_deep_loss", eqLd, EQ, 0)
			} else {
				eqLs := NewEq()
				eqLs.add(vi.LossShallow[i][t], 1)
				eqLs.add(vi.EnergyShallow[i][t-1], -(1 - klossShallow))
				m.AddConstraint("BITES_shallow_loss", eqLs, EQ, 0)

				eqLd := NewEq()
				eqLd.add(vi.LossDeep[i][t], 1)
				eqLd.add(vi.EnergyDeep[i][t-1], -(1 - klossDeep))
				m.AddConstraint("BITES_deep_loss", eqLd, EQ, 0)
			}

			eqDis := NewEq()
			eqDis.add(vi.HChaShallow[i][t], -1)
			m.AddConstraint("BITES_shallow_dis", eqDis, LE, maxShallowRate)

			eqCha := NewEq()
			eqCha.add(vi.HChaShallow[i][t], 1)
			m.AddConstraint("BITES_shallow_cha", eqCha, LE, maxShallowRate)

			eqMaxS := NewEq()
			eqMaxS.add(vi.EnergyShallow[i][t], 1)
			m.AddConstraint("BITES_max_Eshallow", eqMaxS, LE, shallowCap)

			eqMaxD := NewEq()
			eqMaxD.add(vi.EnergyDeep[i][t], 1)
			m.AddConstraint("BITES_max_Edeep", eqMaxD, LE, deepCap)

			eqHdis := NewEq()
			eqHdis.add(vi.HChaShallow[i][t], -1)
			m.AddConstraint("BITES_max_Hdis_shallow", eqHdis, LE, hz.LowHeat.Demand[i][t])

			eqHcha := NewEq()
			eqHcha.add(vi.HChaShallow[i][t], 1)
			rhs := hz.HPMaxHeatOut[i] + hz.BitesMaxShallowRate[i] - hz.LowHeat.Demand[i][t]
			m.AddConstraint("BITES_max_Hcha_shallow", eqHcha, LE, rhs)
		}
	}
}

// addBatteryConstraints implements constraint family 5, including the LP
// relaxation of the charge/discharge XOR and the final-hour cyclicity
// requirement (spec §8 property 5).
func addBatteryConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	eff := params.BatteryEfficiency
	if eff <= 0 {
		eff = 0.95
	}
	soc0 := params.StorageEndChargeLevel
	for i := 0; i < n; i++ {
		capMax := hz.BatteryCapacity[i]
		chaMax := hz.BatteryChargeLimit[i]
		disMax := hz.BatteryDischarge[i]

		for t := 0; t < h; t++ {
			if capMax <= 0 {
				eqZero := NewEq()
				eqZero.add(vi.PCha[i][t], 1)
				eqZero.add(vi.PDis[i][t], 1)
				m.AddConstraint("BES_Ebalance", eqZero, EQ, 0)
				continue
			}
			eqSOC := NewEq()
			eqSOC.add(vi.SOCBES[i][t], 1)
			eqSOC.add(vi.PCha[i][t], -eff/capMax)
			eqSOC.add(vi.PDis[i][t], 1/(capMax*eff))
			if t == 0 {
				m.AddConstraint("BES_Ebalance", eqSOC, EQ, soc0)
			} else {
				eqSOC.add(vi.SOCBES[i][t-1], -1)
				m.AddConstraint("BES_Ebalance", eqSOC, EQ, 0)
			}

			eqDis := NewEq()
			eqDis.add(vi.PDis[i][t], 1)
			m.AddConstraint("BES_max_dis", eqDis, LE, disMax)
			eqCha := NewEq()
			eqCha.add(vi.PCha[i][t], 1)
			m.AddConstraint("BES_max_cha", eqCha, LE, chaMax)

			if chaMax > 0 && disMax > 0 {
				eqXor := NewEq()
				eqXor.add(vi.PDis[i][t], 1/disMax)
				eqXor.add(vi.PCha[i][t], 1/chaMax)
				m.AddConstraint("BES_remove_binaries", eqXor, LE, 1)
			} else {
				eqXor := NewEq()
				eqXor.add(vi.PCha[i][t], 1)
				eqXor.add(vi.PDis[i][t], 1)
				m.AddConstraint("BES_remove_binaries", eqXor, LE, 0)
			}
		}
		if capMax > 0 {
			eqFinal := NewEq()
			eqFinal.add(vi.SOCBES[i][h-1], 1)
			m.AddConstraint("BES_final_SOC", eqFinal, EQ, soc0)
		}
	}
}

// addAccTankConstraints implements constraint family 6, symmetric to the
// battery model, with the tank capacity taken as kwh_per_deg alone; no
// maximum-temperature factor is applied.
func addAccTankConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, n, h int) {
	eff := params.AccTankEfficiency
	if eff <= 0 {
		eff = 0.98
	}
	soc0 := params.StorageEndChargeLevel
	for i := 0; i < n; i++ {
		capKWh := hz.AccTankKWhPerDeg[i] // volume-derived kwh_per_deg, used as the full capacity
		for t := 0; t < h; t++ {
			if capKWh <= 0 {
				eqZero := NewEq()
				eqZero.add(vi.HTESCha[i][t], 1)
				eqZero.add(vi.HTESDis[i][t], 1)
				m.AddConstraint("HTES_Ebalance", eqZero, EQ, 0)
				continue
			}
			eqMaxDis := NewEq()
			eqMaxDis.add(vi.HTESDis[i][t], 1)
			m.AddConstraint("max_HTES_dis", eqMaxDis, LE, capKWh)
			eqMaxCha := NewEq()
			eqMaxCha.add(vi.HTESCha[i][t], 1)
			m.AddConstraint("max_HTES_cha", eqMaxCha, LE, capKWh)

			eqSOC := NewEq()
			eqSOC.add(vi.SOCTES[i][t], 1)
			eqSOC.add(vi.HTESCha[i][t], -eff/capKWh)
			eqSOC.add(vi.HTESDis[i][t], 1/(capKWh*eff))
			if t == 0 {
				m.AddConstraint("HTES_Ebalance", eqSOC, EQ, soc0)
			} else {
				eqSOC.add(vi.SOCTES[i][t-1], -1)
				m.AddConstraint("HTES_Ebalance", eqSOC, EQ, 0)
			}
		}
		if capKWh > 0 {
			eqFinal := NewEq()
			eqFinal.add(vi.SOCTES[i][h-1], 1)
			m.AddConstraint("HTES_final_SOC", eqFinal, EQ, soc0)
		}
	}
}

// addHeatPumpConstraints implements constraint families 7 and 8: the main
// heat pump (COP-linked heat/cool output) and, in summer mode, the booster
// heat pump serving the high-temperature remainder.
func addHeatPumpConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, n, h int) {
	for i := 0; i < n; i++ {
		cop := hz.HPCOP[i]
		for t := 0; t < h; t++ {
			eqH := NewEq()
			eqH.add(vi.HHp[i][t], 1)
			eqH.add(vi.PHp[i][t], -cop)
			m.AddConstraint("HP_Hproduct", eqH, EQ, 0)

			eqC := NewEq()
			eqC.add(vi.CHp[i][t], 1)
			if hz.HPProducesCooling[i] && cop > 1 {
				eqC.add(vi.PHp[i][t], -(cop - 1))
			}
			m.AddConstraint("HP_Cproduct", eqC, EQ, 0)

			eqMaxH := NewEq()
			eqMaxH.add(vi.HHp[i][t], 1)
			m.AddConstraint("max_HP_Hproduct", eqMaxH, LE, hz.HPMaxHeatOut[i])

			eqMaxP := NewEq()
			eqMaxP.add(vi.PHp[i][t], 1)
			m.AddConstraint("max_HP_Pconsumption", eqMaxP, LE, hz.HPMaxElecIn[i])

			if hz.SummerMode {
				copB := hz.BoosterCOP[i]
				eqB := NewEq()
				eqB.add(vi.HHpB[i][t], 1)
				eqB.add(vi.PHpB[i][t], -copB)
				m.AddConstraint("booster_HP_Hproduct", eqB, EQ, 0)

				eqMaxB := NewEq()
				eqMaxB.add(vi.HHpB[i][t], 1)
				m.AddConstraint("max_booster_HP_Hproduct_summer", eqMaxB, LE, hz.BoosterMaxHeatOut[i])
			}
		}
	}
}

// addChillerConstraints models the community-wide centralized compressor
// chiller: cooling output is COP times electricity input, the input is
// capped at ChillerMaxInputKW, and recovered heat is ChillerHeatRecovery
// times the cooling output (spec §3 device inventory, GLOSSARY "centralized
// compressor chiller"). Agents' C_sell_grid flows are not tied to the
// chiller here.
func addChillerConstraints(m *Model, vi *VarIndex, hz *horizon.Horizon, params horizon.Params, h int) {
	cop := params.ChillerCOP
	if cop <= 0 {
		// No chiller configured: pin every chiller variable to zero so the
		// community balance can't treat it as a free, unconstrained source.
		for t := 0; t < h; t++ {
			eqZero := NewEq()
			eqZero.add(vi.PCc[t], 1)
			eqZero.add(vi.CCc[t], 1)
			eqZero.add(vi.HCc[t], 1)
			m.AddConstraint("chiller_disabled", eqZero, EQ, 0)
		}
		return
	}
	for t := 0; t < h; t++ {
		eqCool := NewEq()
		eqCool.add(vi.CCc[t], 1)
		eqCool.add(vi.PCc[t], -cop)
		m.AddConstraint("chiller_cool_from_elec", eqCool, EQ, 0)

		eqMax := NewEq()
		eqMax.add(vi.PCc[t], 1)
		m.AddConstraint("max_chiller_input", eqMax, LE, params.ChillerMaxInputKW)

		eqHeat := NewEq()
		eqHeat.add(vi.HCc[t], 1)
		eqHeat.add(vi.CCc[t], -params.ChillerHeatRecovery)
		m.AddConstraint("chiller_heat_recovery", eqHeat, EQ, 0)
	}
}
