// Package spatialindex implements the lane×cell grid of spec.md §4.5: a
// derived view over the vehicle collection that reduces neighbor queries
// from O(N^2) to O(N) per tick. Vehicle state is always the source of
// truth; the index (and its reverse map) exist purely to answer queries
// cheaply and are rebuilt or incrementally updated every tick.
package spatialindex

import "math"

// cellKey identifies a (lane, cell) bucket.
type cellKey struct {
	lane int
	cell int
}

// Position is the minimal read model a vehicle must expose to be indexed.
type Position struct {
	ID       uint64
	Lane     int
	Position float64 // meters
}

// Index is a lane×cell grid keyed by (lane, cell_idx) -> vehicle id list,
// with a reverse map id -> (lane, cell) for O(1) removal.
type Index struct {
	cellSize float64
	numLanes int

	cells   map[cellKey][]uint64
	reverse map[uint64]cellKey
}

// New constructs an empty index. cellSize defaults to 100m if <= 0.
func New(cellSize float64, numLanes int) *Index {
	if cellSize <= 0 {
		cellSize = 100
	}
	return &Index{
		cellSize: cellSize,
		numLanes: numLanes,
		cells:    make(map[cellKey][]uint64),
		reverse:  make(map[uint64]cellKey),
	}
}

func (idx *Index) cellOf(p Position) cellKey {
	return cellKey{lane: p.Lane, cell: int(math.Floor(p.Position / idx.cellSize))}
}

// Add inserts a vehicle into the grid.
func (idx *Index) Add(p Position) {
	key := idx.cellOf(p)
	idx.cells[key] = append(idx.cells[key], p.ID)
	idx.reverse[p.ID] = key
}

// Remove deletes a vehicle id from the grid using the reverse map.
func (idx *Index) Remove(id uint64) {
	key, ok := idx.reverse[id]
	if !ok {
		return
	}
	delete(idx.reverse, id)
	bucket := idx.cells[key]
	for i, v := range bucket {
		if v == id {
			bucket[i] = bucket[len(bucket)-1]
			idx.cells[key] = bucket[:len(bucket)-1]
			break
		}
	}
	if len(idx.cells[key]) == 0 {
		delete(idx.cells, key)
	}
}

// Update moves a vehicle to its new cell if its (lane, cell) changed; a
// no-op otherwise. O(1) expected.
func (idx *Index) Update(p Position) {
	newKey := idx.cellOf(p)
	oldKey, ok := idx.reverse[p.ID]
	if ok && oldKey == newKey {
		return
	}
	if ok {
		idx.Remove(p.ID)
	}
	idx.Add(p)
}

// Rebuild clears the index and re-adds every vehicle in list. Used when
// the active set changes size significantly.
func (idx *Index) Rebuild(list []Position) {
	idx.cells = make(map[cellKey][]uint64, len(idx.cells))
	idx.reverse = make(map[uint64]cellKey, len(list))
	for _, p := range list {
		idx.Add(p)
	}
}

// Neighbors returns the ids of vehicles within k cells of p's cell, on
// any lane, excluding p.ID itself.
func (idx *Index) Neighbors(p Position, k int) []uint64 {
	key := idx.cellOf(p)
	var out []uint64
	for lane := 0; lane < idx.numLanes; lane++ {
		for d := -k; d <= k; d++ {
			bucket := idx.cells[cellKey{lane: lane, cell: key.cell + d}]
			for _, id := range bucket {
				if id != p.ID {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// LeaderFunc resolves a vehicle id to its current position, used by
// Leader/Follower to compare absolute longitudinal positions across
// candidate cells without the index itself needing full vehicle state.
type LeaderFunc func(id uint64) (pos float64, lane int, ok bool)

// Leader scans forward cells (current lane only, bounded by k cells) and
// returns the id with the minimum positive gap ahead of p, or (0, false)
// if none exists within range.
func (idx *Index) Leader(p Position, k int, resolve LeaderFunc) (uint64, bool) {
	key := idx.cellOf(p)
	var bestID uint64
	bestGap := math.Inf(1)
	found := false
	for d := 0; d <= k; d++ {
		bucket := idx.cells[cellKey{lane: p.Lane, cell: key.cell + d}]
		for _, id := range bucket {
			if id == p.ID {
				continue
			}
			otherPos, otherLane, ok := resolve(id)
			if !ok || otherLane != p.Lane {
				continue
			}
			gap := otherPos - p.Position
			if gap > 0 && gap < bestGap {
				bestGap = gap
				bestID = id
				found = true
			}
		}
	}
	return bestID, found
}

// Follower scans backward cells in targetLane (bounded by k cells) and
// returns the id with the minimum positive gap behind p's position, or
// (0, false) if none exists within range.
func (idx *Index) Follower(p Position, targetLane, k int, resolve LeaderFunc) (uint64, bool) {
	key := idx.cellOf(p)
	var bestID uint64
	bestGap := math.Inf(1)
	found := false
	for d := 0; d <= k; d++ {
		bucket := idx.cells[cellKey{lane: targetLane, cell: key.cell - d}]
		for _, id := range bucket {
			if id == p.ID {
				continue
			}
			otherPos, otherLane, ok := resolve(id)
			if !ok || otherLane != targetLane {
				continue
			}
			gap := p.Position - otherPos
			if gap > 0 && gap < bestGap {
				bestGap = gap
				bestID = id
				found = true
			}
		}
	}
	return bestID, found
}

// CellsWithDensity enumerates (lane, cell) buckets whose member count
// meets or exceeds threshold, used to seed phantom-jam detection.
func (idx *Index) CellsWithDensity(threshold int) [][]uint64 {
	var out [][]uint64
	for _, bucket := range idx.cells {
		if len(bucket) >= threshold {
			cp := make([]uint64, len(bucket))
			copy(cp, bucket)
			out = append(out, cp)
		}
	}
	return out
}

// Len returns the total number of indexed vehicles.
func (idx *Index) Len() int {
	return len(idx.reverse)
}
