package horizon

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

func newTestAgent(name string) types.Agent {
	return types.Agent{GUID: uuid.New(), Name: name, Type: types.BlockAgentType}
}

func TestAssemble_SplitsNetUseIntoDemandAndSupply(t *testing.T) {
	agent := newTestAgent("block1")
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	tw := twin.NewDigitalTwin(100, false)
	tw.SetConsumption(types.Electricity, twin.Series{start: 10})
	tw.SetProduction(types.Electricity, twin.Series{start.Add(time.Hour): 5})

	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): tw}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	hz, err := Assemble([]types.Agent{agent}, twins, start, 2, elecPrice, heatPrice, Params{SummerMonths: DefaultSummerMonths()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := hz.Electricity.Demand[0][0]; got != 10 {
		t.Fatalf("hour 0 demand = %v, want 10", got)
	}
	if got := hz.Electricity.Supply[0][1]; got != 5 {
		t.Fatalf("hour 1 supply = %v, want 5", got)
	}
	if hz.SummerMode {
		t.Fatalf("March should not be summer mode")
	}
}

func TestAssemble_SummerModeForJuneJulyAugust(t *testing.T) {
	agent := newTestAgent("block1")
	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): twin.NewDigitalTwin(100, false)}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	for _, month := range []time.Month{time.June, time.July, time.August} {
		start := time.Date(2023, month, 1, 0, 0, 0, 0, time.UTC)
		hz, err := Assemble([]types.Agent{agent}, twins, start, 1, elecPrice, heatPrice, Params{SummerMonths: DefaultSummerMonths()})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !hz.SummerMode {
			t.Fatalf("%s should be summer mode", month)
		}
	}
}

func TestAssemble_UnfillableHotWaterDemandFailsFast(t *testing.T) {
	agent := newTestAgent("block1")
	agent.Devices.AccTank = &types.AccumulatorTankParams{VolumeM3: 1, KWhPerDeg: 1}
	agent.Devices.HeatPump = &types.HeatPumpParams{MaxThermalOutputKW: 1}

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tw := twin.NewDigitalTwin(100, false)
	tw.SetConsumption(types.HighTempHeat, twin.Series{start: 1000})

	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): tw}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	_, err := Assemble([]types.Agent{agent}, twins, start, 1, elecPrice, heatPrice, Params{SummerMonths: DefaultSummerMonths()})
	if err == nil {
		t.Fatalf("expected UnfillableDemand error")
	}
	if _, ok := err.(*UnfillableDemand); !ok {
		t.Fatalf("expected *UnfillableDemand, got %T: %v", err, err)
	}
}

func TestAssemble_UnfillableCoolingDemandFailsFast(t *testing.T) {
	agent := newTestAgent("block1")
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tw := twin.NewDigitalTwin(100, false)
	tw.SetConsumption(types.Cooling, twin.Series{start: 100000})

	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): tw}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	_, err := Assemble([]types.Agent{agent}, twins, start, 1, elecPrice, heatPrice, Params{
		SummerMonths:      DefaultSummerMonths(),
		ChillerMaxInputKW: 10,
		ChillerCOP:        1.5,
	})
	if err == nil {
		t.Fatalf("expected UnfillableDemand error for cooling")
	}
}

func TestAssemble_BoreholeFreeCoolingExemptsNonSummerDemand(t *testing.T) {
	agent := newTestAgent("block1")
	agent.Devices.HasFreeCoolingBorehole = true
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tw := twin.NewDigitalTwin(100, false)
	tw.SetConsumption(types.Cooling, twin.Series{start: 100000})

	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): tw}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)

	_, err := Assemble([]types.Agent{agent}, twins, start, 1, elecPrice, heatPrice, Params{
		SummerMonths:      DefaultSummerMonths(),
		ChillerMaxInputKW: 10,
		ChillerCOP:        1.5,
	})
	if err != nil {
		t.Fatalf("borehole free cooling should exempt winter demand, got: %v", err)
	}
}
