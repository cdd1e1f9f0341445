package heatpump

import "testing"

func TestCalculateEnergy_Workload6Forward60Brine0(t *testing.T) {
	hp := New(DefaultCOP)

	elec, heat, err := hp.CalculateEnergy(6, 60, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if elec <= 0 || heat <= 0 {
		t.Fatalf("expected positive elec and heat, got elec=%v heat=%v", elec, heat)
	}

	gotCOP := heat / elec
	wantCOP := 2.761
	if diff := gotCOP - wantCOP; diff > 0.01 || diff < -0.01 {
		t.Fatalf("realised COP = %.4f, want approx %.3f", gotCOP, wantCOP)
	}
}

func TestCalculateEnergy_ZeroWorkloadIsOff(t *testing.T) {
	hp := New(DefaultCOP)
	elec, heat, err := hp.CalculateEnergy(0, DefaultForwardTempC, DefaultBrineTempC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elec != 0 || heat != 0 {
		t.Fatalf("workload 0 should produce no flow, got elec=%v heat=%v", elec, heat)
	}
}

func TestCalculateEnergy_OutOfRangeWorkload(t *testing.T) {
	hp := New(DefaultCOP)
	if _, _, err := hp.CalculateEnergy(11, DefaultForwardTempC, DefaultBrineTempC); err == nil {
		t.Fatalf("expected error for out-of-range workload")
	}
}

func TestHigherCOPScalesHeatNotElec(t *testing.T) {
	base := New(DefaultCOP)
	scaled := New(DefaultCOP * 2)

	elecBase, heatBase, _ := base.CalculateEnergy(5, DefaultForwardTempC, DefaultBrineTempC)
	elecScaled, heatScaled, _ := scaled.CalculateEnergy(5, DefaultForwardTempC, DefaultBrineTempC)

	if elecBase != elecScaled {
		t.Fatalf("electricity draw should not depend on COP: base=%v scaled=%v", elecBase, elecScaled)
	}
	if heatScaled <= heatBase {
		t.Fatalf("doubling COP should increase heat output: base=%v scaled=%v", heatBase, heatScaled)
	}
}
