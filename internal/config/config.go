// Package config loads and validates the JSON job configuration: community
// tariff/efficiency scalars (AreaInfo), the agent roster and their devices,
// and the simulation's time/batching parameters. Grounded on the teacher's
// scheduler/config.go (DefaultConfig/LoadConfig/Validate/MarshalJSON shape,
// duration fields rendered as strings).
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/horizon"
	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

// ConfigError wraps a configuration validation failure with the offending
// field, following spec's AMBIENT STACK typed-error taxonomy.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// AreaInfo holds the community-wide tariff and efficiency scalars that feed
// horizon.Params (spec §6).
type AreaInfo struct {
	MaxElecTransferBetweenAgentsKW float64 `json:"max_elec_transfer_between_agents_kw"`
	MaxElecTransferToExternalKW    float64 `json:"max_elec_transfer_to_external_kw"`
	MaxHeatTransferBetweenAgentsKW float64 `json:"max_heat_transfer_between_agents_kw"`
	MaxHeatTransferToExternalKW    float64 `json:"max_heat_transfer_to_external_kw"`
	ChillerCOP                     float64 `json:"chiller_cop"`
	ChillerMaxInputKW              float64 `json:"chiller_max_input_kw"`
	ChillerHeatRecovery            float64 `json:"chiller_heat_recovery"`
	BatteryEfficiency              float64 `json:"battery_efficiency"`
	AccTankEfficiency              float64 `json:"acc_tank_efficiency"`
	HeatTransferLossPercent        float64 `json:"heat_transfer_loss_percent"`
	CoolingTransferLossPercent     float64 `json:"cooling_transfer_loss_percent"`
	StorageEndChargeLevel          float64 `json:"storage_end_charge_level"`

	// LocalMarketEnabled toggles inter-agent local-bus trading (spec §6
	// AreaInfo.LocalMarketEnabled). Defaults to true via DefaultConfig so an
	// omitted field preserves today's behavior.
	LocalMarketEnabled bool `json:"local_market_enabled"`

	ElectricityTax                     float64 `json:"electricity_tax"`
	ElectricityTransmissionFee         float64 `json:"electricity_transmission_fee"`
	ElectricityWholesaleOffset         float64 `json:"electricity_wholesale_offset"`
	ElectricityEffectFeePerKW          float64 `json:"electricity_effect_fee_per_kw"`
	ElectricityInternalTax             float64 `json:"electricity_internal_tax"`
	ElectricityInternalTransmissionFee float64 `json:"electricity_internal_transmission_fee"`

	HeatWholesalePriceFraction float64 `json:"heat_wholesale_price_fraction"`
	HeatEffectFeePerKWDay      float64 `json:"heat_effect_fee_per_kw_day"`

	// SummerMonths is 1-12; empty defaults to {6,7,8} (spec §4.D).
	SummerMonths []int `json:"summer_months"`
}

// ToParams converts AreaInfo into the horizon.Params the assembler and
// builder consume.
func (a AreaInfo) ToParams() horizon.Params {
	months := horizon.DefaultSummerMonths()
	if len(a.SummerMonths) > 0 {
		months = make(map[time.Month]bool, len(a.SummerMonths))
		for _, m := range a.SummerMonths {
			months[time.Month(m)] = true
		}
	}
	return horizon.Params{
		MaxElecTransferBetweenAgents: a.MaxElecTransferBetweenAgentsKW,
		MaxElecTransferToExternal:    a.MaxElecTransferToExternalKW,
		MaxHeatTransferBetweenAgents: a.MaxHeatTransferBetweenAgentsKW,
		MaxHeatTransferToExternal:    a.MaxHeatTransferToExternalKW,
		ChillerCOP:                   a.ChillerCOP,
		ChillerMaxInputKW:            a.ChillerMaxInputKW,
		ChillerHeatRecovery:          a.ChillerHeatRecovery,
		BatteryEfficiency:            a.BatteryEfficiency,
		AccTankEfficiency:            a.AccTankEfficiency,
		HeatTransferLoss:             a.HeatTransferLossPercent / 100,
		CoolingTransferLoss:          a.CoolingTransferLossPercent / 100,
		SummerMonths:                 months,
		StorageEndChargeLevel:        a.StorageEndChargeLevel,
		LocalMarketEnabled:           a.LocalMarketEnabled,
	}
}

// DeviceConfig describes the optional devices a BlockAgent may carry.
type DeviceConfig struct {
	BatteryCapacityKWh       float64 `json:"battery_capacity_kwh,omitempty"`
	BatteryChargeLimitKWh    float64 `json:"battery_charge_limit_kwh,omitempty"`
	BatteryDischargeLimitKWh float64 `json:"battery_discharge_limit_kwh,omitempty"`
	BatteryEfficiency        float64 `json:"battery_efficiency,omitempty"`

	HeatPumpMaxElecInKW  float64 `json:"heat_pump_max_elec_in_kw,omitempty"`
	HeatPumpMaxHeatOutKW float64 `json:"heat_pump_max_heat_out_kw,omitempty"`
	HeatPumpCOP          float64 `json:"heat_pump_cop,omitempty"`

	BoosterMaxElecInKW  float64 `json:"booster_max_elec_in_kw,omitempty"`
	BoosterMaxHeatOutKW float64 `json:"booster_max_heat_out_kw,omitempty"`
	BoosterCOP          float64 `json:"booster_cop,omitempty"`

	AccTankVolumeM3 float64 `json:"acc_tank_volume_m3,omitempty"`

	BitesFractionOfAtemp float64 `json:"bites_fraction_of_atemp,omitempty"`

	HasFreeCoolingBorehole bool `json:"has_free_cooling_borehole,omitempty"`
}

// AgentConfig describes one participant in the community.
type AgentConfig struct {
	GUID              string        `json:"guid"`
	Name              string        `json:"name"`
	Type              string        `json:"type"` // "block", "grid", "heat_producer", "grocery_store"
	AtempM2           float64       `json:"atemp_m2,omitempty"`
	HPProducesCooling bool          `json:"hp_produces_cooling,omitempty"`
	Devices           *DeviceConfig `json:"devices,omitempty"`

	GridResource         string  `json:"grid_resource,omitempty"`
	MaxTransferPerHourKW float64 `json:"max_transfer_per_hour_kw,omitempty"`
}

var agentTypes = map[string]types.AgentType{
	"block":         types.BlockAgentType,
	"grid":          types.GridAgentType,
	"heat_producer": types.HeatProducerAgentType,
	"grocery_store": types.GroceryStoreAgentType,
}

var resourceNames = map[string]types.Resource{
	"electricity":    types.Electricity,
	"high_temp_heat": types.HighTempHeat,
	"low_temp_heat":  types.LowTempHeat,
	"cooling":        types.Cooling,
}

// ToAgent converts the JSON agent config into the domain Agent type.
func (a AgentConfig) ToAgent() (types.Agent, error) {
	guid, err := uuid.Parse(a.GUID)
	if err != nil {
		return types.Agent{}, &ConfigError{Field: "agents[].guid", Msg: fmt.Sprintf("invalid uuid %q: %v", a.GUID, err)}
	}
	agentType, ok := agentTypes[a.Type]
	if !ok {
		return types.Agent{}, &ConfigError{Field: "agents[].type", Msg: fmt.Sprintf("unknown agent type %q", a.Type)}
	}

	agent := types.Agent{
		GUID:              guid,
		Name:              a.Name,
		Type:              agentType,
		AtempM2:           a.AtempM2,
		HPProducesCooling: a.HPProducesCooling,
	}

	if agentType == types.GridAgentType {
		resource, ok := resourceNames[a.GridResource]
		if !ok {
			return types.Agent{}, &ConfigError{Field: "agents[].grid_resource", Msg: fmt.Sprintf("unknown resource %q", a.GridResource)}
		}
		agent.GridResource = resource
		agent.MaxTransferPerHour = a.MaxTransferPerHourKW
		return agent, nil
	}

	if a.Devices != nil {
		d := a.Devices
		if d.BatteryCapacityKWh > 0 {
			agent.Devices.Battery = &types.BatteryParams{
				MaxCapacityKWh:    d.BatteryCapacityKWh,
				ChargeLimitKWh:    d.BatteryChargeLimitKWh,
				DischargeLimitKWh: d.BatteryDischargeLimitKWh,
				Efficiency:        d.BatteryEfficiency,
			}
		}
		if d.HeatPumpMaxElecInKW > 0 {
			agent.Devices.HeatPump = &types.HeatPumpParams{
				MaxElectricInputKW: d.HeatPumpMaxElecInKW,
				MaxThermalOutputKW: d.HeatPumpMaxHeatOutKW,
				COP:                d.HeatPumpCOP,
			}
		}
		if d.BoosterMaxElecInKW > 0 {
			agent.Devices.BoosterHP = &types.HeatPumpParams{
				MaxElectricInputKW: d.BoosterMaxElecInKW,
				MaxThermalOutputKW: d.BoosterMaxHeatOutKW,
				COP:                d.BoosterCOP,
			}
		}
		if d.AccTankVolumeM3 > 0 {
			agent.Devices.AccTank = &types.AccumulatorTankParams{
				VolumeM3:  d.AccTankVolumeM3,
				KWhPerDeg: twin.KWhPerDeg(d.AccTankVolumeM3),
			}
		}
		if d.BitesFractionOfAtemp > 0 {
			bites := twin.DeriveBitesParams(a.AtempM2, d.BitesFractionOfAtemp)
			agent.Devices.Bites = &bites
		}
		agent.Devices.HasFreeCoolingBorehole = d.HasFreeCoolingBorehole
	}

	return agent, nil
}

// SimulationConfig bundles the time window and batching parameters for the
// driver (spec §4.G).
type SimulationConfig struct {
	StartDate     time.Time
	Days          int
	HorizonHours  int
	BatchSize     int
	SolverTimeout time.Duration
}

// MockDataConstants overrides the annual kWh/m² building-type constants
// BuildMockTwins falls back to (tradingplatformpoc/generate_mock_data.py's
// module-level KWH_PER_YEAR_M2_* constants), letting a configuration tune
// the synthetic series without a code change. A zero value means "use the
// default for that field".
type MockDataConstants struct {
	KWhPerYearM2Atemp                   float64 `json:"kwh_per_year_m2_atemp,omitempty"`
	KWhPerYearM2ResidentialSpaceHeating float64 `json:"kwh_per_year_m2_residential_space_heating,omitempty"`
	KWhPerYearM2ResidentialHotTapWater  float64 `json:"kwh_per_year_m2_residential_hot_tap_water,omitempty"`
	KWhElecPerYearM2Commercial          float64 `json:"kwh_elec_per_year_m2_commercial,omitempty"`
	KWhSpaceHeatPerYearM2Commercial     float64 `json:"kwh_space_heat_per_year_m2_commercial,omitempty"`
	KWhHotTapWaterPerYearM2Commercial   float64 `json:"kwh_hot_tap_water_per_year_m2_commercial,omitempty"`
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Config is the top-level job configuration loaded from JSON.
type Config struct {
	AreaInfo           AreaInfo          `json:"area_info"`
	Agents             []AgentConfig     `json:"agents"`
	Simulation         SimulationConfig  `json:"simulation"`
	MockData           MockDataConstants `json:"mock_data_constants"`
	PostgresConnString string            `json:"postgres_conn_string"`
}

// DefaultConfig returns a Config with the conventional defaults (hourly
// horizon of 24h, batches of 7 days, 60s solver timeout), mirroring
// scheduler.DefaultConfig's role as the baseline a loaded file overrides.
func DefaultConfig() *Config {
	return &Config{
		AreaInfo: AreaInfo{
			LocalMarketEnabled: true,
		},
		Simulation: SimulationConfig{
			HorizonHours:  24,
			Days:          365,
			BatchSize:     7,
			SolverTimeout: 60 * time.Second,
		},
	}
}

// LoadConfig loads and validates configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads and validates configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the structural and numeric invariants a malformed config
// would otherwise surface only deep inside horizon assembly or the solver.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return &ConfigError{Field: "agents", Msg: "at least one agent is required"}
	}
	hasGrid := map[types.Resource]bool{}
	seenGUIDs := map[string]bool{}
	for i, a := range c.Agents {
		if a.GUID == "" {
			return &ConfigError{Field: fmt.Sprintf("agents[%d].guid", i), Msg: "must not be empty"}
		}
		if seenGUIDs[a.GUID] {
			return &ConfigError{Field: fmt.Sprintf("agents[%d].guid", i), Msg: "duplicate GUID"}
		}
		seenGUIDs[a.GUID] = true
		if _, ok := agentTypes[a.Type]; !ok {
			return &ConfigError{Field: fmt.Sprintf("agents[%d].type", i), Msg: fmt.Sprintf("unknown type %q", a.Type)}
		}
		if a.Type == "grid" {
			resource, ok := resourceNames[a.GridResource]
			if !ok {
				return &ConfigError{Field: fmt.Sprintf("agents[%d].grid_resource", i), Msg: fmt.Sprintf("unknown resource %q", a.GridResource)}
			}
			hasGrid[resource] = true
		}
	}
	if !hasGrid[types.Electricity] {
		return &ConfigError{Field: "agents", Msg: "at least one grid agent for electricity is required"}
	}

	if c.Simulation.HorizonHours <= 0 {
		return &ConfigError{Field: "simulation.horizon_hours", Msg: "must be > 0"}
	}
	if c.Simulation.Days <= 0 {
		return &ConfigError{Field: "simulation.days", Msg: "must be > 0"}
	}
	if c.Simulation.BatchSize <= 0 {
		return &ConfigError{Field: "simulation.batch_size", Msg: "must be > 0"}
	}
	if c.AreaInfo.BatteryEfficiency < 0 || c.AreaInfo.BatteryEfficiency > 1 {
		return &ConfigError{Field: "area_info.battery_efficiency", Msg: "must be between 0 and 1"}
	}
	if c.AreaInfo.AccTankEfficiency < 0 || c.AreaInfo.AccTankEfficiency > 1 {
		return &ConfigError{Field: "area_info.acc_tank_efficiency", Msg: "must be between 0 and 1"}
	}
	if c.AreaInfo.StorageEndChargeLevel < 0 || c.AreaInfo.StorageEndChargeLevel > 1 {
		return &ConfigError{Field: "area_info.storage_end_charge_level", Msg: "must be between 0 and 1"}
	}
	return nil
}

// ToAgents converts the loaded roster into domain Agent values.
func (c *Config) ToAgents() ([]types.Agent, error) {
	agents := make([]types.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		agent, err := a.ToAgent()
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// MarshalJSON implements custom JSON marshaling so Simulation's time.Time
// and time.Duration fields render as human-editable strings, the same
// pattern as scheduler.Config.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		Simulation simulationConfigJSON `json:"simulation"`
	}{
		Alias:      (*Alias)(c),
		Simulation: toSimulationConfigJSON(c.Simulation),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		Simulation simulationConfigJSON `json:"simulation"`
	}{Alias: (*Alias)(c), Simulation: toSimulationConfigJSON(c.Simulation)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	sim, err := aux.Simulation.toSimulationConfig()
	if err != nil {
		return err
	}
	c.Simulation = sim
	return nil
}

type simulationConfigJSON struct {
	StartDate     string `json:"start_date"`
	Days          int    `json:"days"`
	HorizonHours  int    `json:"horizon_hours"`
	BatchSize     int    `json:"batch_size"`
	SolverTimeout string `json:"solver_timeout"`
}

func toSimulationConfigJSON(s SimulationConfig) simulationConfigJSON {
	out := simulationConfigJSON{
		Days:         s.Days,
		HorizonHours: s.HorizonHours,
		BatchSize:    s.BatchSize,
	}
	if !s.StartDate.IsZero() {
		out.StartDate = s.StartDate.UTC().Format(time.RFC3339)
	}
	if s.SolverTimeout > 0 {
		out.SolverTimeout = s.SolverTimeout.String()
	}
	return out
}

func (j simulationConfigJSON) toSimulationConfig() (SimulationConfig, error) {
	out := SimulationConfig{Days: j.Days, HorizonHours: j.HorizonHours, BatchSize: j.BatchSize}
	if j.StartDate != "" {
		t, err := time.Parse(time.RFC3339, j.StartDate)
		if err != nil {
			return out, fmt.Errorf("invalid simulation.start_date %q: %w", j.StartDate, err)
		}
		out.StartDate = t
	}
	if j.SolverTimeout != "" {
		d, err := time.ParseDuration(j.SolverTimeout)
		if err != nil {
			return out, fmt.Errorf("invalid simulation.solver_timeout %q: %w", j.SolverTimeout, err)
		}
		out.SolverTimeout = d
	}
	return out, nil
}
