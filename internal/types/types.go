// Package types holds the core LEC data model: resources, agents, trades,
// storage state and extra costs, shared by every other package in the
// simulation pipeline.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Resource is one of the four commodities the LEC exchanges.
type Resource int

const (
	Electricity Resource = iota
	HighTempHeat
	LowTempHeat
	Cooling
)

func (r Resource) String() string {
	switch r {
	case Electricity:
		return "ELECTRICITY"
	case HighTempHeat:
		return "HIGH_TEMP_HEAT"
	case LowTempHeat:
		return "LOW_TEMP_HEAT"
	case Cooling:
		return "COOLING"
	default:
		return "UNKNOWN_RESOURCE"
	}
}

// AllResources enumerates every Resource, in a stable order used whenever the
// horizon assembler or extractor needs to range over them deterministically.
var AllResources = [...]Resource{Electricity, HighTempHeat, LowTempHeat, Cooling}

// Action is which side of a trade an agent is on.
type Action int

const (
	Buy Action = iota
	Sell
)

func (a Action) String() string {
	if a == Buy {
		return "BUY"
	}
	return "SELL"
}

// Market records whether a trade cleared inside the LEC or with the utility.
type Market int

const (
	Local Market = iota
	External
)

func (m Market) String() string {
	if m == Local {
		return "LOCAL"
	}
	return "EXTERNAL"
}

// AgentType is the role an Agent plays in the community.
type AgentType int

const (
	BlockAgentType AgentType = iota
	GridAgentType
	HeatProducerAgentType
	GroceryStoreAgentType
)

// BatteryParams describes a BlockAgent's electrical battery.
type BatteryParams struct {
	MaxCapacityKWh   float64
	ChargeLimitKWh   float64
	DischargeLimitKWh float64
	Efficiency       float64
}

// HeatPumpParams describes a heat pump (main or booster).
type HeatPumpParams struct {
	MaxElectricInputKW float64
	MaxThermalOutputKW float64
	COP                float64
}

// AccumulatorTankParams describes a hot-water buffer tank. KWhPerDeg is
// derived from VolumeM3 by the caller (energy_to_water_volume inverse, see
// internal/twin).
type AccumulatorTankParams struct {
	VolumeM3  float64
	KWhPerDeg float64
}

// BitesParams describes the building-inertia thermal storage induced
// quantities, derived from FractionOfAtemp * AtempM2 (spec §3).
type BitesParams struct {
	FractionOfAtemp  float64
	ShallowCapKWh    float64
	DeepCapKWh       float64
	InterLayerK      float64
	MaxShallowRateKW float64
}

// DeviceParams bundles every optional device a BlockAgent may own.
type DeviceParams struct {
	Battery                *BatteryParams
	HeatPump               *HeatPumpParams
	BoosterHP              *HeatPumpParams
	AccTank                *AccumulatorTankParams
	Bites                  *BitesParams
	HasFreeCoolingBorehole bool
}

// Agent identifies a participant in the LEC.
type Agent struct {
	GUID uuid.UUID
	Name string
	Type AgentType

	// GridAgent-only: the single resource this agent imports/exports.
	GridResource       Resource
	MaxTransferPerHour float64

	// BlockAgent-only.
	Devices DeviceParams

	// Shared digital-twin static fields (spec §3 Digital twin).
	AtempM2           float64
	HPProducesCooling bool
}

// Trade is one settled flow of energy for one agent, hour and resource.
type Trade struct {
	ID               uuid.UUID
	JobID            string
	Period           time.Time
	AgentGUID        uuid.UUID
	Action           Action
	Resource         Resource
	QuantityPostLoss float64
	QuantityPreLoss  float64
	Price            float64 // NaN when undefined (heat sell, cooling)
	ByExternal       bool
	Market           Market
	LossFraction     float64
	GridFeePerKWh    float64
	TaxPerKWh        float64
}

// CostOf returns the signed monetary cost of the trade: positive for a BUY
// (the agent pays), negative for a SELL (the agent earns). Mirrors
// trade.py's get_cost_of_trade, generalised from quantity to the pre/post
// loss split (§3 invariants).
func (t Trade) CostOf() float64 {
	if t.Action == Buy {
		return t.Price * t.QuantityPreLoss
	}
	return -t.Price * t.QuantityPostLoss
}

// StorageState is the per-agent, per-hour mutable thermal/electric state.
type StorageState struct {
	Period        time.Time
	AgentGUID     uuid.UUID
	BatterySOC    float64
	AccTankSOC    float64
	EnergyShallow float64
	EnergyDeep    float64
}

// ExtraCostType distinguishes the two tariff-correction channels.
type ExtraCostType int

const (
	HeatExtCostCorr ExtraCostType = iota
	ElecExtCostCorr
)

func (t ExtraCostType) String() string {
	if t == HeatExtCostCorr {
		return "HEAT_EXT_COST_CORR"
	}
	return "ELEC_EXT_COST_CORR"
}

// ExtraCost is a monthly correction attributed to one agent.
type ExtraCost struct {
	ID          uuid.UUID
	JobID       string
	PeriodMonth time.Time // first instant of the month, UTC
	AgentGUID   uuid.UUID
	Type        ExtraCostType
	Amount      float64
}

// Level is a single metadata time series datapoint (battery SOC, BITES
// levels, HP output, dumps, ...). AgentGUID is the nil UUID for
// community-wide (non-agent-keyed) series such as the chiller output.
type Level struct {
	JobID       string
	Period      time.Time
	AgentGUID   uuid.UUID
	MetadataKey TradeMetadataKey
	Value       float64
}

// TradeMetadataKey enumerates the extractable per-hour metadata series
// (spec §4.E item 3).
type TradeMetadataKey int

const (
	BatterySOCKey TradeMetadataKey = iota
	AccTankSOCKey
	ShallowStorageRelKey
	DeepStorageRelKey
	ShallowStorageAbsKey
	DeepStorageAbsKey
	ShallowLossKey
	DeepLossKey
	ShallowChargeKey
	FlowShallowToDeepKey
	HPCoolProdKey
	HPLowHeatProdKey
	HPHighHeatProdKey
	HeatDumpKey
	CoolDumpKey
	ChillerCoolKey
	ChillerHeatKey
	ChillerElecKey
	HeatEstimateUsedFutureDataKey
)

func (k TradeMetadataKey) String() string {
	names := [...]string{
		"battery_soc", "acc_tank_soc", "shallow_storage_rel", "deep_storage_rel",
		"shallow_storage_abs", "deep_storage_abs", "shallow_loss", "deep_loss",
		"shallow_charge", "flow_shallow_to_deep", "hp_cool_prod", "hp_low_heat_prod",
		"hp_high_heat_prod", "heat_dump", "cool_dump", "chiller_cool", "chiller_heat",
		"chiller_elec", "heat_estimate_used_future_data",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown_metadata_key"
	}
	return names[k]
}

const epsilon = 1e-6

// Epsilon is the tolerance used throughout the pipeline for treating small
// quantities (spec-mandated 1e-6) as zero.
func Epsilon() float64 { return epsilon }
