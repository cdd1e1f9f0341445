package milp

// Param unifies the two shapes tariff and device data arrive in: a single
// scalar that applies to every hour, or one value per hour. Spec §9 design
// note calls for this instead of the loosely-typed mix of bare floats and
// slices the original passed around.
type Param struct {
	scalar  float64
	perHour []float64
}

// ScalarParam returns a Param that yields the same value at every index.
func ScalarParam(v float64) Param {
	return Param{scalar: v}
}

// PerHourParam returns a Param backed by one value per hour.
func PerHourParam(values []float64) Param {
	return Param{perHour: values}
}

// At returns the value for hour t, regardless of which shape this Param
// was constructed with.
func (p Param) At(t int) float64 {
	if p.perHour != nil {
		return p.perHour[t]
	}
	return p.scalar
}

// IsPerHour reports whether this Param carries an hourly series.
func (p Param) IsPerHour() bool {
	return p.perHour != nil
}
