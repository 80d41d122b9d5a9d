package environment

import "testing"

func TestEffectForDefaultsToClearOnUnknown(t *testing.T) {
	e := EffectFor(WeatherType("monsoon"))
	if e.SpeedFactor != 1.0 || e.Name != "clear" {
		t.Fatalf("expected clear-weather fallback, got %+v", e)
	}
}

func TestAdjustedSpeedScalesDown(t *testing.T) {
	e := EffectFor(WeatherRain)
	got := AdjustedSpeed(e, 30)
	if got != 24 {
		t.Fatalf("AdjustedSpeed(rain, 30) = %v, want 24", got)
	}
}

func TestAdjustedHeadwayAppliesHeavyVehicleCaution(t *testing.T) {
	e := EffectFor(WeatherSnow)
	car := AdjustedHeadway(e, "car", 1.6)
	truck := AdjustedHeadway(e, "truck", 1.6)
	if truck <= car {
		t.Fatalf("expected truck headway (%v) > car headway (%v) in snow", truck, car)
	}
}

func TestAdjustedHeadwayNoExtraCautionInClearWeather(t *testing.T) {
	e := EffectFor(WeatherClear)
	car := AdjustedHeadway(e, "car", 1.6)
	truck := AdjustedHeadway(e, "truck", 1.6)
	if car != truck {
		t.Fatalf("expected equal headway in clear weather, got car=%v truck=%v", car, truck)
	}
}

func TestAdjustedAccelerationAndVisibilityScale(t *testing.T) {
	e := EffectFor(WeatherFog)
	if got := AdjustedAcceleration(e, 2.0); got != 1.7 {
		t.Fatalf("AdjustedAcceleration(fog, 2.0) = %v, want 1.7", got)
	}
	if got := AdjustedVisibility(e, 300); got != 90 {
		t.Fatalf("AdjustedVisibility(fog, 300) = %v, want 90", got)
	}
}
