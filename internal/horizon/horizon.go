// Package horizon assembles the per-horizon dense inputs the MILP builder
// consumes (spec §4.C): agent x hour demand/supply matrices, per-agent
// parameter vectors, and horizon-wide scalars, plus the pre-solve
// feasibility checks that let the driver fail fast instead of handing the
// solver an infeasible model. Grounded on chalmers_interface.py's
// build_supply_and_demand_dfs and AgentEMS.solve_model's assert/RuntimeError
// validation block.
package horizon

import (
	"fmt"
	"time"

	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

// UnfillableDemand is raised when a horizon's demand cannot possibly be met
// regardless of how the MILP trades, so solving it would only waste time
// discovering "infeasible" (spec §4.C, §7).
type UnfillableDemand struct {
	AgentGUIDs []string
	Hours      []int
	Reason     string
}

func (e *UnfillableDemand) Error() string {
	return fmt.Sprintf("unfillable demand (%s): agents=%v hours=%v", e.Reason, e.AgentGUIDs, e.Hours)
}

// Matrix is a dense agents x H table, row-major by agent index.
type Matrix [][]float64

func newMatrix(agents, hours int) Matrix {
	m := make(Matrix, agents)
	for i := range m {
		m[i] = make([]float64, hours)
	}
	return m
}

// DemandSupply holds a split net-use series into its positive (demand) and
// negative (supply, stored as |net_use|) parts, per spec §4.C step 1.
type DemandSupply struct {
	Demand Matrix
	Supply Matrix
}

// Horizon is the full set of dense inputs for one MILP solve.
type Horizon struct {
	Agents []types.Agent
	Start  time.Time
	Hours  int

	Electricity DemandSupply
	HighHeat    DemandSupply
	LowHeat     DemandSupply
	Cooling     DemandSupply

	// Per-agent parameter vectors, indexed the same as Agents.
	BatteryCapacity     []float64
	BatteryChargeLimit  []float64
	BatteryDischarge    []float64
	HPMaxElecIn         []float64
	HPMaxHeatOut        []float64
	HPCOP               []float64
	HPProducesCooling   []bool
	BoosterMaxElecIn    []float64
	BoosterMaxHeatOut   []float64
	BoosterCOP          []float64
	AccTankVolumeM3     []float64
	AccTankKWhPerDeg    []float64
	BitesShallowCap     []float64
	BitesDeepCap        []float64
	BitesInterLayerK    []float64
	BitesMaxShallowRate []float64
	HasBorehole         []bool
	ShallowEnergy0      []float64
	DeepEnergy0         []float64

	// Scalars / horizon-length series.
	NordpoolPrice       []float64 // length Hours
	ExternalHeatRetail  float64
	Tax                 float64
	TransmissionFee     float64
	EffectFeeElec       float64
	EffectFeeHeatPerDay float64
	WholesaleOffset     float64

	SummerMode bool
}

// Params bundles the tariff/efficiency scalars and transfer caps that come
// from AreaInfo config rather than per-agent device data (spec §6).
type Params struct {
	MaxElecTransferBetweenAgents float64
	MaxElecTransferToExternal    float64
	MaxHeatTransferBetweenAgents float64
	MaxHeatTransferToExternal    float64
	ChillerCOP                   float64
	ChillerMaxInputKW            float64
	ChillerHeatRecovery          float64
	BatteryEfficiency            float64
	AccTankEfficiency            float64
	HeatTransferLoss             float64
	CoolingTransferLoss          float64
	SummerMonths                 map[time.Month]bool

	// StorageEndChargeLevel is the battery/tank SOC both horizon boundaries
	// must equal, enforcing the per-horizon cyclicity of spec §8 property 5.
	StorageEndChargeLevel float64

	// LocalMarketEnabled gates inter-agent local-bus trading. When false, the
	// builder zeroes the inter-agent transfer caps so every agent clears
	// exclusively against the external market (spec §4.D "no i" branch).
	LocalMarketEnabled bool
}

// DefaultSummerMonths is June, July, August, matching spec §4.D "practically
// {6,7,8}".
func DefaultSummerMonths() map[time.Month]bool {
	return map[time.Month]bool{time.June: true, time.July: true, time.August: true}
}

// IsSummer reports whether a horizon start falls in a configured summer
// month (spec §4.D "State machine: summer vs winter").
func IsSummer(start time.Time, summerMonths map[time.Month]bool) bool {
	if summerMonths == nil {
		summerMonths = DefaultSummerMonths()
	}
	return summerMonths[start.Month()]
}

// Assemble builds a Horizon from a digital twin per agent, covering H hours
// starting at `start`, applying the spec §4.C pre-condition checks.
func Assemble(
	agents []types.Agent,
	twins map[string]*twin.DigitalTwin, // keyed by agent GUID string
	start time.Time,
	h int,
	elecPrice *pricing.ElectricityPriceModel,
	heatPrice *pricing.HeatPriceModel,
	params Params,
) (*Horizon, error) {
	n := len(agents)
	hz := &Horizon{
		Agents:              agents,
		Start:               start,
		Hours:               h,
		Electricity:         DemandSupply{Demand: newMatrix(n, h), Supply: newMatrix(n, h)},
		HighHeat:            DemandSupply{Demand: newMatrix(n, h), Supply: newMatrix(n, h)},
		LowHeat:             DemandSupply{Demand: newMatrix(n, h), Supply: newMatrix(n, h)},
		Cooling:             DemandSupply{Demand: newMatrix(n, h), Supply: newMatrix(n, h)},
		BatteryCapacity:     make([]float64, n),
		BatteryChargeLimit:  make([]float64, n),
		BatteryDischarge:    make([]float64, n),
		HPMaxElecIn:         make([]float64, n),
		HPMaxHeatOut:        make([]float64, n),
		HPCOP:               make([]float64, n),
		HPProducesCooling:   make([]bool, n),
		BoosterMaxElecIn:    make([]float64, n),
		BoosterMaxHeatOut:   make([]float64, n),
		BoosterCOP:          make([]float64, n),
		AccTankVolumeM3:     make([]float64, n),
		AccTankKWhPerDeg:    make([]float64, n),
		BitesShallowCap:     make([]float64, n),
		BitesDeepCap:        make([]float64, n),
		BitesInterLayerK:    make([]float64, n),
		BitesMaxShallowRate: make([]float64, n),
		HasBorehole:         make([]bool, n),
		ShallowEnergy0:      make([]float64, n),
		DeepEnergy0:         make([]float64, n),
		NordpoolPrice:       make([]float64, h),
		SummerMode:          IsSummer(start, params.SummerMonths),
	}

	for t := 0; t < h; t++ {
		period := start.Add(time.Duration(t) * time.Hour)
		hz.NordpoolPrice[t] = elecPrice.NordpoolPrice(period)
	}
	hz.ExternalHeatRetail = pricing.RetailPriceExclEffectFee(start)
	hz.Tax = elecPrice.Tax
	hz.TransmissionFee = elecPrice.TransmissionFee
	hz.EffectFeeElec = elecPrice.EffectFeePerKW
	hz.EffectFeeHeatPerDay = heatPrice.GetEffectFeePerDay(start)
	hz.WholesaleOffset = elecPrice.WholesaleOffset

	for i, agent := range agents {
		tw := twins[agent.GUID.String()]

		for t := 0; t < h; t++ {
			period := start.Add(time.Duration(t) * time.Hour)
			splitInto(hz.Electricity, i, t, tw, period, types.Electricity)
			splitInto(hz.HighHeat, i, t, tw, period, types.HighTempHeat)
			splitInto(hz.LowHeat, i, t, tw, period, types.LowTempHeat)
			splitInto(hz.Cooling, i, t, tw, period, types.Cooling)
		}

		d := agent.Devices
		if d.Battery != nil {
			hz.BatteryCapacity[i] = d.Battery.MaxCapacityKWh
			hz.BatteryChargeLimit[i] = d.Battery.ChargeLimitKWh
			hz.BatteryDischarge[i] = d.Battery.DischargeLimitKWh
		}
		if d.HeatPump != nil {
			hz.HPMaxElecIn[i] = d.HeatPump.MaxElectricInputKW
			hz.HPMaxHeatOut[i] = d.HeatPump.MaxThermalOutputKW
			hz.HPCOP[i] = d.HeatPump.COP
		}
		hz.HPProducesCooling[i] = agent.HPProducesCooling
		if d.BoosterHP != nil {
			hz.BoosterMaxElecIn[i] = d.BoosterHP.MaxElectricInputKW
			hz.BoosterMaxHeatOut[i] = d.BoosterHP.MaxThermalOutputKW
			hz.BoosterCOP[i] = d.BoosterHP.COP
		}
		if d.AccTank != nil {
			hz.AccTankVolumeM3[i] = d.AccTank.VolumeM3
			hz.AccTankKWhPerDeg[i] = d.AccTank.KWhPerDeg
		}
		if d.Bites != nil {
			hz.BitesShallowCap[i] = d.Bites.ShallowCapKWh
			hz.BitesDeepCap[i] = d.Bites.DeepCapKWh
			hz.BitesInterLayerK[i] = d.Bites.InterLayerK
			hz.BitesMaxShallowRate[i] = d.Bites.MaxShallowRateKW
		}
		hz.HasBorehole[i] = d.HasFreeCoolingBorehole
	}

	if err := checkPreconditions(hz, params, tanksMaxTemp(agents)); err != nil {
		return nil, err
	}
	return hz, nil
}

func splitInto(ds DemandSupply, agentIdx, t int, tw *twin.DigitalTwin, period time.Time, r types.Resource) {
	if tw == nil {
		return
	}
	net := tw.NetUse(period, r)
	if net > 0 {
		ds.Demand[agentIdx][t] = net
	} else if net < 0 {
		ds.Supply[agentIdx][t] = -net
	}
}

// tanksMaxTemp returns the tank maximum-temperature multiplier for each
// agent, which is always 1.0: AccTankKWhPerDeg is volume-derived
// (internal/twin) and is used as the tank's whole capacity, with no
// maximum-temperature factor applied anywhere.
func tanksMaxTemp(agents []types.Agent) []float64 {
	maxTemp := make([]float64, len(agents))
	for i := range agents {
		maxTemp[i] = 1.0
	}
	return maxTemp
}

// checkPreconditions enforces spec §4.C's fail-fast feasibility checks
// before the MILP is ever built, mirroring AgentEMS.solve_model's assert
// block and its "Unfillable hot water demand"/"Unfillable cooling demand"
// RuntimeErrors.
func checkPreconditions(hz *Horizon, params Params, maxTempFactor []float64) error {
	var badAgents []string
	var badHours []int

	for i, agent := range hz.Agents {
		if agent.Devices.AccTank == nil {
			continue
		}
		maxDischarge := hz.AccTankKWhPerDeg[i]*maxTempFactor[i] + hz.HPMaxHeatOut[i]
		for t := 0; t < hz.Hours; t++ {
			if hz.HighHeat.Demand[i][t] > maxDischarge+types.Epsilon() {
				badAgents = append(badAgents, agent.GUID.String())
				badHours = append(badHours, t)
			}
		}
	}
	if len(badAgents) > 0 {
		return &UnfillableDemand{AgentGUIDs: badAgents, Hours: badHours, Reason: "hot water demand exceeds max tank discharge"}
	}

	maxCoolPerHour := params.ChillerMaxInputKW*params.ChillerCOP + sumCoolingHPCapacity(hz)
	for t := 0; t < hz.Hours; t++ {
		total := 0.0
		for i := range hz.Agents {
			borehole := hz.HasBorehole[i]
			notSummer := !hz.SummerMode
			demand := hz.Cooling.Demand[i][t]
			if borehole && notSummer {
				continue // free cooling covers it entirely
			}
			total += demand
		}
		if total > maxCoolPerHour+types.Epsilon() {
			badHours = append(badHours, t)
		}
	}
	if len(badHours) > 0 && len(badAgents) == 0 {
		return &UnfillableDemand{Hours: badHours, Reason: "cooling demand exceeds maximum chillable capacity"}
	}

	if hz.Hours < 1 {
		return &UnfillableDemand{Reason: "horizon length must be >= 1"}
	}
	return nil
}

func sumCoolingHPCapacity(hz *Horizon) float64 {
	sum := 0.0
	for i := range hz.Agents {
		if !hz.HPProducesCooling[i] {
			continue
		}
		cop := hz.HPCOP[i]
		if cop <= 1 {
			continue
		}
		sum += (cop - 1) * hz.HPMaxElecIn[i]
	}
	return sum
}
