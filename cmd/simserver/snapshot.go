package main

import "github.com/Tuzfucius/YULU-simulation/services/engine"

// wsMessage envelopes every streaming-interface event (spec.md §6
// "Streaming interface") pushed to websocket clients and Redis.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// progressEvent is the PROGRESS streaming event.
type progressEvent struct {
	CurrentTime       float64 `json:"current_time"`
	TotalTime         float64 `json:"total_time"`
	Progress          float64 `json:"progress"`
	ActiveVehicles    int     `json:"active_vehicles"`
	CompletedVehicles int     `json:"completed_vehicles"`
	ActiveAnomalies   int     `json:"active_anomalies"`
	ETA               float64 `json:"eta"`
}

// vehicleView is one entry of a SNAPSHOT event's vehicle list.
type vehicleView struct {
	ID           uint64  `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Lane         int     `json:"lane"`
	SpeedKMH     float64 `json:"speed_kmh"`
	Type         string  `json:"type"`
	AnomalyState string  `json:"anomaly_state"`
	AnomalyType  int     `json:"anomaly_type"`
	IsAffected   bool    `json:"is_affected"`
	Length       float64 `json:"length"`
	Color        string  `json:"color"`
}

// snapshotEvent is the SNAPSHOT streaming event.
type snapshotEvent struct {
	Time     float64       `json:"time"`
	Vehicles []vehicleView `json:"vehicles"`
}

func vehicleColor(anomalyState string, impacted bool) string {
	switch anomalyState {
	case "active":
		return "#d9363e"
	case "cooling":
		return "#f5a623"
	default:
		if impacted {
			return "#f5d742"
		}
		return "#4a90d9"
	}
}

func buildSnapshot(e *engine.Engine, ev engine.TickEvents) snapshotEvent {
	laneWidth := e.Road().LaneWidth
	snap := snapshotEvent{Time: e.Clock(), Vehicles: make([]vehicleView, 0, len(ev.Trajectories))}
	for _, pt := range ev.Trajectories {
		snap.Vehicles = append(snap.Vehicles, vehicleView{
			ID:           pt.VehicleID,
			X:            pt.Position,
			Y:            float64(pt.Lane)*laneWidth + laneWidth/2 + pt.LateralOffset,
			Lane:         pt.Lane,
			SpeedKMH:     pt.SpeedKMH,
			Type:         pt.VehicleType,
			AnomalyState: pt.AnomalyState,
			AnomalyType:  pt.AnomalyType,
			IsAffected:   pt.Impacted,
			Length:       pt.Length,
			Color:        vehicleColor(pt.AnomalyState, pt.Impacted),
		})
	}
	return snap
}

func buildProgress(e *engine.Engine, ev engine.TickEvents, totalTime float64) progressEvent {
	stats := e.Stats()
	progress := 0.0
	if totalTime > 0 {
		progress = e.Clock() / totalTime
		if progress > 1 {
			progress = 1
		}
	}
	eta := totalTime - e.Clock()
	if eta < 0 {
		eta = 0
	}
	activeAnomalies := 0
	for _, pt := range ev.Trajectories {
		if pt.AnomalyState == "active" {
			activeAnomalies++
		}
	}
	return progressEvent{
		CurrentTime:       e.Clock(),
		TotalTime:         totalTime,
		Progress:          progress,
		ActiveVehicles:    e.ActiveCount(),
		CompletedVehicles: stats.TotalFinished,
		ActiveAnomalies:   activeAnomalies,
		ETA:               eta,
	}
}
