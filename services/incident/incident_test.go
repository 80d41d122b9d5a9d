package incident

import (
	"testing"

	"github.com/Tuzfucius/YULU-simulation/domain/vehicle"
)

func TestConstructionZoneBlocksClosedLaneAndLimitsSpeed(t *testing.T) {
	m := NewManager(3, 20000)
	m.AddConstructionZone(1000, 1500, []int{0}, 60, 0, 100, 500)

	limit, ok := m.GetSpeedLimitAt(1200, 0, 10)
	if !ok || limit != 0 {
		t.Fatalf("expected closed lane to report fully blocked, got limit=%v ok=%v", limit, ok)
	}

	limit, ok = m.GetSpeedLimitAt(1200, 1, 10)
	if !ok || limit <= 0 {
		t.Fatalf("expected open lane in zone to carry the posted limit, got limit=%v ok=%v", limit, ok)
	}
}

func TestConstructionZoneExpiresOutsideTimeWindow(t *testing.T) {
	m := NewManager(3, 20000)
	m.AddConstructionZone(1000, 1500, []int{0}, 60, 0, 100, 500)

	if _, ok := m.GetSpeedLimitAt(1200, 0, 200); ok {
		t.Fatalf("expected zone to be inactive after its end time")
	}
}

func TestShouldVehicleChangeLaneInTaperArea(t *testing.T) {
	m := NewManager(3, 20000)
	zone := m.AddConstructionZone(1000, 1500, []int{0}, 60, 0, 100, 500)

	if !m.ShouldVehicleChangeLane(zone.TaperStart()+10, 0, 10) {
		t.Fatalf("expected merge-out signal inside the taper area")
	}
	if m.ShouldVehicleChangeLane(zone.WarningStart()-100, 0, 10) {
		t.Fatalf("expected no merge signal well upstream of the warning area")
	}
}

func TestCreateBreakdownBlocksItsLane(t *testing.T) {
	m := NewManager(2, 10000)
	m.CreateBreakdown(1, 5000, 1, 0, true, 300)

	blocked := m.GetBlockedLanes(10)
	if len(blocked[1]) == 0 {
		t.Fatalf("expected breakdown to block lane 1")
	}
	if len(blocked[0]) != 0 {
		t.Fatalf("expected lane 0 to remain unblocked")
	}
}

func TestUpdateClearsExpiredIncidents(t *testing.T) {
	m := NewManager(2, 10000)
	m.CreateBreakdown(1, 5000, 1, 0, true, 300)

	m.Update(100)
	if len(m.GetBlockedLanes(100)) == 0 {
		t.Fatalf("expected incident still active before its clear time")
	}

	m.Update(301)
	if len(m.GetBlockedLanes(301)) != 0 {
		t.Fatalf("expected incident cleared after its duration elapses")
	}
}

func TestCheckChainCollisionDetectsTightFastClosingCluster(t *testing.T) {
	m := NewManager(1, 5000)
	vehicles := []*vehicle.Vehicle{
		{ID: 1, Position: 100, Speed: 0, Lane: 0},
		{ID: 2, Position: 97, Speed: 12, Lane: 0},
		{ID: 3, Position: 92, Speed: 24, Lane: 0},
		{ID: 4, Position: 87, Speed: 36, Lane: 0},
	}
	inc := m.CheckChainCollision(vehicles, 42)
	if inc == nil {
		t.Fatalf("expected a chain collision to be detected")
	}
	if inc.Type != TypeChainCollision {
		t.Fatalf("expected TypeChainCollision, got %v", inc.Type)
	}
	if len(inc.VehicleIDs) < 3 {
		t.Fatalf("expected at least 3 vehicles in the chain, got %v", inc.VehicleIDs)
	}
}

func TestCheckChainCollisionIgnoresFreeFlowingTraffic(t *testing.T) {
	m := NewManager(1, 5000)
	vehicles := []*vehicle.Vehicle{
		{ID: 1, Position: 100, Speed: 20, Lane: 0},
		{ID: 2, Position: 50, Speed: 20, Lane: 0},
		{ID: 3, Position: 0, Speed: 20, Lane: 0},
	}
	if inc := m.CheckChainCollision(vehicles, 10); inc != nil {
		t.Fatalf("expected no chain collision for evenly spaced free-flowing traffic, got %+v", inc)
	}
}

func TestGetSummaryCountsByType(t *testing.T) {
	m := NewManager(2, 10000)
	m.CreateBreakdown(1, 1000, 0, 0, true, 50)
	m.AddConstructionZone(2000, 2500, []int{1}, 60, 0, 100, 300)
	m.Update(60)

	s := m.GetSummary()
	if s.TotalIncidents != 1 || s.ClearedIncidents != 1 || s.ConstructionZones != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
