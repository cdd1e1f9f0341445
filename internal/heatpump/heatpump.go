// Package heatpump ports the linear workload/forward-temp/brine-temp
// regression model from tradingplatformpoc/heat_pump.py, giving electricity
// in and heat out in kW for a workload/temperature point. No other package
// imports it: internal/config reads the {MaxElectricInputKW,
// MaxThermalOutputKW, COP} device parameters that internal/milp consumes
// directly from the job configuration.
package heatpump

import "fmt"

// Coefficients of the simple linear regressions fit against the
// "Thermia Mega" medium-sized heat pump (see simple_heat_pump_model.ipynb
// in the original data-exploration project).
const (
	elecIntercept             = -5.195751e-01
	elecRPMSquaredCoef        = 1.375397e-07
	elecForwardTempCoef       = 3.693311e-02
	elecForwardTempTimesRPM   = 2.581335e-05
	heatIntercept             = 0.520527
	heatRPMCoef               = 0.007857
	heatForwardTempTimesRPM   = -0.000017
	heatBrineTempTimesRPM     = 0.000188
)

// DefaultCOP is the manufacturer-quoted COP achieved at brine 0C, forward
// 35C, RPM 3600 - the reference point the heat/elec regressions were fit
// against and the scaling anchor for other COP values.
const DefaultCOP = 4.6

const (
	DefaultBrineTempC   = 0.0
	DefaultForwardTempC = 55.0
	rpmMin              = 1500.0
	rpmMax              = 6000.0
	MinWorkload         = 1
	MaxWorkload         = 10
)

// ValueOutOfRangeError is returned when a workload falls outside [1,10].
type ValueOutOfRangeError struct {
	Workload int
}

func (e *ValueOutOfRangeError) Error() string {
	return fmt.Sprintf("workload %d out of range [%d:%d]", e.Workload, MinWorkload, MaxWorkload)
}

// HeatPump calculates electricity-in/heat-out pairs for a workload setting,
// scaled to a given coefficient of performance.
type HeatPump struct {
	COP float64
}

// New returns a HeatPump calibrated to the given COP (DefaultCOP if coefOfPerf <= 0).
func New(coefOfPerf float64) *HeatPump {
	if coefOfPerf <= 0 {
		coefOfPerf = DefaultCOP
	}
	return &HeatPump{COP: coefOfPerf}
}

// CalculateEnergy returns (electricityInKW, heatOutKW) for the given
// workload/forward-temp/brine-temp operating point. Workload 0 means off.
func (hp *HeatPump) CalculateEnergy(workload int, forwardTempC, brineTempC float64) (float64, float64, error) {
	if workload == 0 {
		return 0, 0, nil
	}
	if workload < MinWorkload || workload > MaxWorkload {
		return 0, 0, &ValueOutOfRangeError{Workload: workload}
	}

	rpm := mapWorkloadToRPM(float64(workload))
	elec := modelElecNeeded(forwardTempC, rpm)
	heatAtDefaultCOP := modelHeatOutput(forwardTempC, rpm, brineTempC)
	heat := heatAtDefaultCOP * hp.COP / DefaultCOP

	return elec, heat, nil
}

func modelElecNeeded(forwardTempC, rpm float64) float64 {
	return elecIntercept +
		elecRPMSquaredCoef*rpm*rpm +
		elecForwardTempCoef*forwardTempC +
		elecForwardTempTimesRPM*forwardTempC*rpm
}

func modelHeatOutput(forwardTempC, rpm, brineTempC float64) float64 {
	return heatIntercept +
		heatRPMCoef*rpm +
		heatForwardTempTimesRPM*forwardTempC*rpm +
		heatBrineTempTimesRPM*brineTempC*rpm
}

func mapWorkloadToRPM(workload float64) float64 {
	workloadRange := float64(MaxWorkload - MinWorkload)
	rpmRange := rpmMax - rpmMin
	normalized := (workload - MinWorkload) / workloadRange
	return rpmMin + normalized*rpmRange
}
