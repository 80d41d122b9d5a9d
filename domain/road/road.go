// Package road describes the fixed road geometry a simulation run drives on.
package road

import "math"

// Gantry is a fixed ETC sensor position along the road.
type Gantry struct {
	ID       string
	Position float64 // meters from the start of the road
}

// Road is an ordered sequence of fixed-length segments with a fixed lane
// count and a set of ETC gantries pinned to positions in meters.
type Road struct {
	LengthKM        float64
	SegmentLengthKM float64
	NumLanes        int
	LaneWidth       float64
	Gantries        []Gantry
}

// LengthM is the total road length in meters.
func (r Road) LengthM() float64 {
	return r.LengthKM * 1000
}

// SegmentLengthM is a single segment's length in meters.
func (r Road) SegmentLengthM() float64 {
	return r.SegmentLengthKM * 1000
}

// NumSegments is the number of segments the road is divided into.
func (r Road) NumSegments() int {
	if r.SegmentLengthKM <= 0 {
		return 0
	}
	return int(math.Ceil(r.LengthKM / r.SegmentLengthKM))
}

// SegmentIndex returns floor(positionM / segmentLengthM), the segment a
// given longitudinal position falls into.
func (r Road) SegmentIndex(positionM float64) int {
	segLen := r.SegmentLengthM()
	if segLen <= 0 {
		return 0
	}
	return int(math.Floor(positionM / segLen))
}

// ValidLane reports whether lane is within [0, NumLanes).
func (r Road) ValidLane(lane int) bool {
	return lane >= 0 && lane < r.NumLanes
}
