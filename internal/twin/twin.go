// Package twin implements the digital-twin data holder of spec §4.A: pure,
// side-effect-free hourly series lookups for an agent's consumption and
// production, grounded on tradingplatformpoc's StaticDigitalTwin /
// BlockAgent.get_actual_usage_for_resource.
package twin

import (
	"time"

	"github.com/devskill-org/lec-sim/internal/types"
)

// Series is an hourly time series keyed by the exact hour timestamp (UTC).
type Series map[time.Time]float64

// DigitalTwin bundles, per agent, optional hourly consumption/production
// series keyed by resource, plus static PV output and heated floor area.
type DigitalTwin struct {
	Consumption map[types.Resource]Series
	Production  map[types.Resource]Series
	AtempM2     float64
	HPProducesCooling bool
	PVProduction Series
}

// NewDigitalTwin returns an empty twin ready to have series attached.
func NewDigitalTwin(atempM2 float64, hpProducesCooling bool) *DigitalTwin {
	return &DigitalTwin{
		Consumption:       make(map[types.Resource]Series),
		Production:        make(map[types.Resource]Series),
		AtempM2:           atempM2,
		HPProducesCooling: hpProducesCooling,
	}
}

// GetConsumption returns the consumption in kWh for the given hour and
// resource, defaulting to 0 when the series or the hour is absent.
func (d *DigitalTwin) GetConsumption(period time.Time, resource types.Resource) float64 {
	series, ok := d.Consumption[resource]
	if !ok {
		return 0
	}
	return series[period]
}

// GetProduction returns the production in kWh for the given hour and
// resource, defaulting to 0 when the series or the hour is absent.
func (d *DigitalTwin) GetProduction(period time.Time, resource types.Resource) float64 {
	series, ok := d.Production[resource]
	if !ok {
		return 0
	}
	return series[period]
}

// NetUse returns consumption - production for the given hour and resource.
// Positive means the agent is a net consumer; negative means a net producer.
func (d *DigitalTwin) NetUse(period time.Time, resource types.Resource) float64 {
	return d.GetConsumption(period, resource) - d.GetProduction(period, resource)
}

// SetConsumption replaces the whole consumption series for a resource.
func (d *DigitalTwin) SetConsumption(resource types.Resource, series Series) {
	d.Consumption[resource] = series
}

// SetProduction replaces the whole production series for a resource.
func (d *DigitalTwin) SetProduction(resource types.Resource, series Series) {
	d.Production[resource] = series
}

// EnergyToWaterVolume inverts the accumulator-tank sizing formula used by
// the Python source (trading_platform_utils.energy_to_water_volume):
// kwh_per_deg = volume_m3 * specific_heat_water_j_per_kg_c * density_kg_per_m3 / 3_600_000.
// Given a desired capacity in kWh at a temperature delta, returns the tank
// volume in m3 that would store it.
func EnergyToWaterVolume(energyKWh float64, tempDeltaC float64) float64 {
	const specificHeatWater = 4182.0 // J/(kg*C)
	const densityWater = 998.0       // kg/m3
	kwhPerDegPerM3 := specificHeatWater * densityWater / 3_600_000.0
	if tempDeltaC <= 0 {
		return 0
	}
	return energyKWh / (tempDeltaC * kwhPerDegPerM3)
}

// KWhPerDeg computes the accumulator tank's energy-per-degree constant
// from its volume, the same formula AgentEMS.solve_model uses inline.
func KWhPerDeg(volumeM3 float64) float64 {
	const specificHeatWater = 4182.0
	const densityWater = 998.0
	return volumeM3 * specificHeatWater * densityWater / 3_600_000.0
}

// DeriveBitesParams computes the induced BITES quantities from the
// agent's heated floor area and the fraction of it eligible for inertia
// storage (spec §3): shallow_cap = 0.046*A, deep_cap = 0.291*A,
// inter-layer K = 0.03*A, max_shallow_rate = 0.023*A.
func DeriveBitesParams(atempM2, fractionOfAtemp float64) types.BitesParams {
	a := atempM2 * fractionOfAtemp
	return types.BitesParams{
		FractionOfAtemp:  fractionOfAtemp,
		ShallowCapKWh:    0.046 * a,
		DeepCapKWh:       0.291 * a,
		InterLayerK:      0.03 * a,
		MaxShallowRateKW: 0.023 * a,
	}
}
