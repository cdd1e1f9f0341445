package config

import (
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "area_info": {
    "max_elec_transfer_between_agents_kw": 1000,
    "max_elec_transfer_to_external_kw": 5000,
    "battery_efficiency": 0.93,
    "acc_tank_efficiency": 0.98,
    "storage_end_charge_level": 0.5,
    "chiller_cop": 3.5
  },
  "agents": [
    {"guid": "11111111-1111-1111-1111-111111111111", "name": "Grid-Elec", "type": "grid", "grid_resource": "electricity", "max_transfer_per_hour_kw": 10000},
    {"guid": "22222222-2222-2222-2222-222222222222", "name": "Block1", "type": "block", "atemp_m2": 5000,
      "devices": {"battery_capacity_kwh": 100, "battery_charge_limit_kwh": 50, "battery_discharge_limit_kwh": 50,
                  "heat_pump_max_elec_in_kw": 20, "heat_pump_max_heat_out_kw": 60, "heat_pump_cop": 3,
                  "bites_fraction_of_atemp": 0.6}}
  ],
  "simulation": {"start_date": "2023-01-01T00:00:00Z", "days": 30, "horizon_hours": 24, "batch_size": 7, "solver_timeout": "30s"}
}`

func TestLoadConfigFromReader_ParsesAgentsAndDevices(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agents, err := cfg.ToAgents()
	if err != nil {
		t.Fatalf("ToAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	block := agents[1]
	if block.Devices.Battery == nil || block.Devices.Battery.MaxCapacityKWh != 100 {
		t.Fatalf("expected battery to be parsed, got %+v", block.Devices.Battery)
	}
	if block.Devices.Bites == nil || block.Devices.Bites.ShallowCapKWh <= 0 {
		t.Fatalf("expected derived BITES params, got %+v", block.Devices.Bites)
	}
	if cfg.Simulation.StartDate.Year() != 2023 {
		t.Fatalf("expected parsed start date, got %v", cfg.Simulation.StartDate)
	}
	if cfg.Simulation.SolverTimeout != 30*time.Second {
		t.Fatalf("expected 30s solver timeout, got %v", cfg.Simulation.SolverTimeout)
	}
}

func TestValidate_RejectsMissingElectricityGrid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents = []AgentConfig{
		{GUID: "11111111-1111-1111-1111-111111111111", Type: "block", AtempM2: 100},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when no electricity grid agent is configured")
	}
}

func TestValidate_RejectsDuplicateGUIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents = []AgentConfig{
		{GUID: "11111111-1111-1111-1111-111111111111", Type: "grid", GridResource: "electricity"},
		{GUID: "11111111-1111-1111-1111-111111111111", Type: "block"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for duplicate agent GUIDs")
	}
}

func TestAreaInfo_ToParams_DefaultsSummerMonths(t *testing.T) {
	a := AreaInfo{}
	p := a.ToParams()
	if !p.SummerMonths[time.June] || !p.SummerMonths[time.July] || !p.SummerMonths[time.August] {
		t.Fatalf("expected default summer months, got %v", p.SummerMonths)
	}
}

func TestMarshalRoundTrip_PreservesSimulationFields(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	roundTripped, err := LoadConfigFromReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("round trip decode: %v", err)
	}
	if !roundTripped.Simulation.StartDate.Equal(cfg.Simulation.StartDate) {
		t.Fatalf("start date did not survive round trip: %v vs %v", roundTripped.Simulation.StartDate, cfg.Simulation.StartDate)
	}
	if roundTripped.Simulation.SolverTimeout != cfg.Simulation.SolverTimeout {
		t.Fatalf("solver timeout did not survive round trip: %v vs %v", roundTripped.Simulation.SolverTimeout, cfg.Simulation.SolverTimeout)
	}
}
