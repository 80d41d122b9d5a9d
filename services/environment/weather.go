// Package environment adjusts car-following and lane-change parameters for
// weather conditions, per spec.md §9's "richer weather model" open question.
// Every adjustment is a pure multiplier applied on top of a vehicle's base
// IDM/MOBIL parameters; nothing here depends on engine or vehicle state.
package environment

// WeatherType names one of the fixed weather presets a run can select.
type WeatherType string

const (
	WeatherClear     WeatherType = "clear"
	WeatherRain      WeatherType = "rain"
	WeatherSnow      WeatherType = "snow"
	WeatherFog       WeatherType = "fog"
	WeatherHeavyRain WeatherType = "heavy_rain"
)

// Effect is a weather preset's multipliers, all relative to clear weather
// (1.0 = no change).
type Effect struct {
	SpeedFactor        float64
	HeadwayFactor      float64
	VisibilityFactor   float64
	PolitenessFactor   float64
	AccelerationFactor float64

	Name        string
	Description string
}

// presets mirrors the original implementation's WEATHER_PRESETS table.
var presets = map[WeatherType]Effect{
	WeatherClear: {
		SpeedFactor: 1.0, HeadwayFactor: 1.0, VisibilityFactor: 1.0,
		PolitenessFactor: 1.0, AccelerationFactor: 1.0,
		Name: "clear", Description: "standard driving conditions",
	},
	WeatherRain: {
		SpeedFactor: 0.8, HeadwayFactor: 1.4, VisibilityFactor: 0.7,
		PolitenessFactor: 1.1, AccelerationFactor: 0.9,
		Name: "rain", Description: "wet pavement, drivers more cautious",
	},
	WeatherSnow: {
		SpeedFactor: 0.6, HeadwayFactor: 1.8, VisibilityFactor: 0.5,
		PolitenessFactor: 1.2, AccelerationFactor: 0.7,
		Name: "snow", Description: "icy pavement, extreme caution",
	},
	WeatherFog: {
		SpeedFactor: 0.7, HeadwayFactor: 1.6, VisibilityFactor: 0.3,
		PolitenessFactor: 1.3, AccelerationFactor: 0.85,
		Name: "fog", Description: "very low visibility, large following gaps",
	},
	WeatherHeavyRain: {
		SpeedFactor: 0.65, HeadwayFactor: 1.7, VisibilityFactor: 0.4,
		PolitenessFactor: 1.2, AccelerationFactor: 0.75,
		Name: "heavy_rain", Description: "severe rain, reduced vision and braking",
	},
}

// EffectFor resolves a WeatherType to its preset, defaulting to clear for an
// unrecognized or empty value.
func EffectFor(w WeatherType) Effect {
	if e, ok := presets[w]; ok {
		return e
	}
	return presets[WeatherClear]
}

// heavyVehicleTypes are the vehicle.Type tags the original model treats as
// more cautious in adverse headway conditions.
var heavyVehicleTypes = map[string]bool{"truck": true, "bus": true}

// AdjustedSpeed scales a vehicle's desired speed (V0) by the weather's
// speed factor.
func AdjustedSpeed(e Effect, baseSpeed float64) float64 {
	return baseSpeed * e.SpeedFactor
}

// AdjustedHeadway scales a vehicle's time headway (T), applying an extra
// 1.1x caution factor for trucks/buses when the weather lengthens headway.
func AdjustedHeadway(e Effect, vehicleType string, baseHeadway float64) float64 {
	extra := 1.0
	if heavyVehicleTypes[vehicleType] && e.HeadwayFactor > 1.0 {
		extra = 1.1
	}
	return baseHeadway * e.HeadwayFactor * extra
}

// AdjustedAcceleration scales a vehicle's maximum acceleration (AMax) by
// the weather's acceleration factor.
func AdjustedAcceleration(e Effect, baseAccel float64) float64 {
	return baseAccel * e.AccelerationFactor
}

// AdjustedVisibility scales a base visibility distance (meters) by the
// weather's visibility factor.
func AdjustedVisibility(e Effect, baseVisibility float64) float64 {
	return baseVisibility * e.VisibilityFactor
}

// AdjustedPoliteness scales a vehicle's MOBIL politeness factor.
func AdjustedPoliteness(e Effect, basePoliteness float64) float64 {
	return basePoliteness * e.PolitenessFactor
}
