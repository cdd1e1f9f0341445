package config

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

// Annual kWh/m² constants per building type, ported from
// tradingplatformpoc/generate_mock_data.py's module-level constants.
const (
	kwhPerYearM2Atemp                   = 20.0
	kwhPerYearM2ResidentialSpaceHeating = 25.0
	kwhPerYearM2ResidentialHotTapWater  = 25.0
	kwhElecPerYearM2Commercial          = 118.0
	kwhSpaceHeatPerYearM2Commercial     = 32.0
	kwhHotTapWaterPerYearM2Commercial   = 3.5

	hoursPerYear = 8760.0
)

// seasonalFactor and diurnalFactor replace generate_mock_data.py's
// Gaussian-noise, piecewise-linear-interpolated series (knots every 3
// hours, per-series relative standard deviation) with a deterministic
// cosine shape: a yearly cosine for heating's winter peak, and a daily
// cosine for consumption's evening peak. This trades the original's
// statistical realism for a reproducible fixture (see DESIGN.md).
func seasonalFactor(t time.Time, amplitude float64) float64 {
	dayOfYear := float64(t.YearDay())
	return 1 + amplitude*math.Cos(2*math.Pi*(dayOfYear-15)/365.0)
}

func diurnalFactor(t time.Time, amplitude float64) float64 {
	hour := float64(t.Hour())
	return 1 + amplitude*math.Cos(2*math.Pi*(hour-18)/24.0)
}

// BuildMockTwins synthesizes a deterministic digital twin per BlockAgent and
// GroceryStoreAgent from its heated floor area and building-type annual
// kWh/m² constants, for configurations that supply no real metered history
// (spec §6 "Mock-data interface").
func (c *Config) BuildMockTwins(start time.Time, hours int) (map[string]*twin.DigitalTwin, error) {
	twins := make(map[string]*twin.DigitalTwin)
	for _, a := range c.Agents {
		if a.Type != "block" && a.Type != "grocery_store" {
			continue
		}
		guid, err := uuid.Parse(a.GUID)
		if err != nil {
			return nil, &ConfigError{Field: "agents[].guid", Msg: err.Error()}
		}

		tw := twin.NewDigitalTwin(a.AtempM2, a.HPProducesCooling)

		mc := c.MockData
		elecAnnualM2 := orDefault(mc.KWhPerYearM2Atemp, kwhPerYearM2Atemp)
		spaceHeatAnnualM2 := orDefault(mc.KWhPerYearM2ResidentialSpaceHeating, kwhPerYearM2ResidentialSpaceHeating)
		hotWaterAnnualM2 := orDefault(mc.KWhPerYearM2ResidentialHotTapWater, kwhPerYearM2ResidentialHotTapWater)
		if a.Type == "grocery_store" {
			elecAnnualM2 = orDefault(mc.KWhElecPerYearM2Commercial, kwhElecPerYearM2Commercial)
			spaceHeatAnnualM2 = orDefault(mc.KWhSpaceHeatPerYearM2Commercial, kwhSpaceHeatPerYearM2Commercial)
			hotWaterAnnualM2 = orDefault(mc.KWhHotTapWaterPerYearM2Commercial, kwhHotTapWaterPerYearM2Commercial)
		}
		elecHourlyBase := elecAnnualM2 * a.AtempM2 / hoursPerYear
		heatHourlyBase := (spaceHeatAnnualM2 + hotWaterAnnualM2) * a.AtempM2 / hoursPerYear

		elecSeries := make(twin.Series, hours)
		heatSeries := make(twin.Series, hours)
		for h := 0; h < hours; h++ {
			period := start.Add(time.Duration(h) * time.Hour)
			elecSeries[period] = elecHourlyBase * diurnalFactor(period, 0.3) * seasonalFactor(period, 0.1)
			heatSeries[period] = heatHourlyBase * seasonalFactor(period, 0.6)
		}
		tw.SetConsumption(types.Electricity, elecSeries)
		tw.SetConsumption(types.HighTempHeat, heatSeries)
		twins[guid.String()] = tw
	}
	return twins, nil
}
