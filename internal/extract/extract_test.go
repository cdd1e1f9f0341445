package extract

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/horizon"
	"github.com/devskill-org/lec-sim/internal/milp"
	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/types"
)

// TestExtract_SkipsTradesBelowEpsilon validates that a net flow under the
// 1e-6 tolerance produces no Trade row (spec §4.E item 1).
func TestExtract_SkipsTradesBelowEpsilon(t *testing.T) {
	agent := types.Agent{GUID: uuid.New(), Name: "a1", Type: types.BlockAgentType}
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	hz := &horizon.Horizon{Agents: []types.Agent{agent}, Start: start, Hours: 1, NordpoolPrice: []float64{0.5}}

	m := milp.NewModel()
	vi := minimalVarIndex(m, hz)

	values := make([]float64, len(m.Vars))
	values[vi.PBuyGrid[0][0]] = 1e-8
	values[vi.PSellGrid[0][0]] = 0

	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	res := Extract(hz, vi, values, "job-1", GridGUIDs{}, elecPrice, heatPrice)
	for _, tr := range res.Trades {
		if tr.Resource == types.Electricity && tr.AgentGUID == agent.GUID {
			t.Fatalf("expected no electricity trade for below-epsilon net, got %+v", tr)
		}
	}
}

func TestExtract_EmitsBuyAtRetailSellAtWholesale(t *testing.T) {
	agent := types.Agent{GUID: uuid.New(), Name: "a1", Type: types.BlockAgentType}
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	hz := &horizon.Horizon{
		Agents: []types.Agent{agent}, Start: start, Hours: 1,
		NordpoolPrice: []float64{0.5}, Tax: 0.1, TransmissionFee: 0.05, WholesaleOffset: -0.05,
	}
	m := milp.NewModel()
	vi := minimalVarIndex(m, hz)
	values := make([]float64, len(m.Vars))
	values[vi.PBuyGrid[0][0]] = 10

	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)
	res := Extract(hz, vi, values, "job-1", GridGUIDs{}, elecPrice, heatPrice)

	found := false
	for _, tr := range res.Trades {
		if tr.Resource == types.Electricity && tr.AgentGUID == agent.GUID && tr.Market == types.Local {
			found = true
			if tr.Action != types.Buy {
				t.Fatalf("expected BUY, got %v", tr.Action)
			}
			wantPrice := hz.NordpoolPrice[0] + hz.TransmissionFee + hz.Tax
			if math.Abs(tr.Price-wantPrice) > 1e-9 {
				t.Fatalf("price = %v, want %v", tr.Price, wantPrice)
			}
		}
	}
	if !found {
		t.Fatalf("expected a local electricity trade for the agent")
	}
}

func TestExtract_CoolingTradesHaveNaNPrice(t *testing.T) {
	agent := types.Agent{GUID: uuid.New(), Name: "a1", Type: types.BlockAgentType}
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	hz := &horizon.Horizon{Agents: []types.Agent{agent}, Start: start, Hours: 1, NordpoolPrice: []float64{0.5}}
	m := milp.NewModel()
	vi := minimalVarIndex(m, hz)
	values := make([]float64, len(m.Vars))
	values[vi.CBuyGrid[0][0]] = 5

	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)
	res := Extract(hz, vi, values, "job-1", GridGUIDs{}, elecPrice, heatPrice)

	found := false
	for _, tr := range res.Trades {
		if tr.Resource == types.Cooling {
			found = true
			if !math.IsNaN(tr.Price) {
				t.Fatalf("cooling trade price should be NaN, got %v", tr.Price)
			}
		}
	}
	if !found {
		t.Fatalf("expected a cooling trade")
	}
}

// minimalVarIndex creates just enough model variables for one agent/one hour
// to exercise Extract without going through the full milp.Build pipeline.
// It also gives hz zero-valued per-agent device capacities, which Extract's
// metadata pass indexes.
func minimalVarIndex(m *milp.Model, hz *horizon.Horizon) *milp.VarIndex {
	n, h := len(hz.Agents), hz.Hours
	hz.BatteryCapacity = make([]float64, n)
	hz.AccTankKWhPerDeg = make([]float64, n)
	hz.BitesShallowCap = make([]float64, n)
	hz.BitesDeepCap = make([]float64, n)
	hz.HPMaxElecIn = make([]float64, n)
	mk := func() [][]int {
		out := make([][]int, n)
		for i := range out {
			out[i] = make([]int, h)
			for t := range out[i] {
				out[i][t] = m.AddVar("v", 0, 1e9, milp.Continuous)
			}
		}
		return out
	}
	vi := &milp.VarIndex{
		PBuyGrid: mk(), PSellGrid: mk(), HBuyGrid: mk(), HSellGrid: mk(),
		CBuyGrid: mk(), CSellGrid: mk(), SOCBES: mk(), SOCTES: mk(),
		EnergyShallow: mk(), EnergyDeep: mk(), LossShallow: mk(), LossDeep: mk(),
		HChaShallow: mk(), Flow: mk(), HeatDump: mk(), CoolDump: mk(),
		HHp: mk(), CHp: mk(),
	}
	vi.PBuyMarket = make([]int, h)
	vi.PSellMarket = make([]int, h)
	vi.HBuyMarket = make([]int, h)
	vi.PCc = make([]int, h)
	vi.HCc = make([]int, h)
	vi.CCc = make([]int, h)
	for t := 0; t < h; t++ {
		vi.PBuyMarket[t] = m.AddVar("Pbuy_market", 0, 1e9, milp.Continuous)
		vi.PSellMarket[t] = m.AddVar("Psell_market", 0, 1e9, milp.Continuous)
		vi.HBuyMarket[t] = m.AddVar("Hbuy_market", 0, 1e9, milp.Continuous)
		vi.PCc[t] = m.AddVar("Pcc", 0, 1e9, milp.Continuous)
		vi.HCc[t] = m.AddVar("Hcc", 0, 1e9, milp.Continuous)
		vi.CCc[t] = m.AddVar("Ccc", 0, 1e9, milp.Continuous)
	}
	vi.AvgElecPeakLoad = m.AddVar("avg_elec_peak_load", 0, 1e9, milp.Continuous)
	vi.MonthlyHeatPeakVar = m.AddVar("monthly_heat_peak_energy", 0, 1e9, milp.Continuous)
	return vi
}
