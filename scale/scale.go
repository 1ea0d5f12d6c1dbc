/*
	Package scale holds the per-level voxel sizes of a multiresolution image and
	picks the pyramid level closest to a requested voxel size.
*/
package scale

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Vector is the physical size of one voxel along each axis of a pyramid level.
type Vector []float64

func (v Vector) String() string {
	return "[" + zroi.FormatFloats(v) + "]"
}

// Equal returns true if both vectors have the same components.
func (v Vector) Equal(v2 Vector) bool {
	if len(v) != len(v2) {
		return false
	}
	return floats.Equal(v, v2)
}

// Map is an ordered mapping of pyramid level id to scale vector.  Levels iterate
// in ascending numeric order, with non-numeric ids after numeric ones in lexical
// order.  All vectors in a Map have the same length.
type Map struct {
	levels []string
	scales map[string]Vector
}

// NewMap returns an empty scale map.
func NewMap() *Map {
	return &Map{scales: make(map[string]Vector)}
}

// Set adds or replaces the scale of a level.  The vector is copied.
func (m *Map) Set(level string, v Vector) error {
	if len(m.levels) > 0 {
		if dim := len(m.scales[m.levels[0]]); dim != len(v) {
			return fmt.Errorf("%w: level %q has %d components, map has %d",
				zroi.ErrDimensionMismatch, level, len(v), dim)
		}
	}
	if _, found := m.scales[level]; !found {
		m.levels = append(m.levels, level)
		sort.SliceStable(m.levels, func(i, j int) bool {
			return levelLess(m.levels[i], m.levels[j])
		})
	}
	m.scales[level] = append(Vector(nil), v...)
	return nil
}

// Get returns the scale of a level.
func (m *Map) Get(level string) (Vector, bool) {
	if m == nil {
		return nil, false
	}
	v, found := m.scales[level]
	if !found {
		return nil, false
	}
	return append(Vector(nil), v...), true
}

// Levels returns the level ids in iteration order.
func (m *Map) Levels() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.levels...)
}

// Len returns the number of levels.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.levels)
}

// Dims returns the number of components of each vector, or 0 if the map is empty.
func (m *Map) Dims() int {
	if m.Len() == 0 {
		return 0
	}
	return len(m.scales[m.levels[0]])
}

func levelLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Closest returns the level whose scale vector has the smallest Euclidean distance
// to the target.  Ties go to the earliest level in iteration order.  A target with
// exactly one component less than the map's vectors is left-padded with 1, which
// covers a leading non-spatial axis missing from the request.
func Closest(target Vector, m *Map) (string, error) {
	if m.Len() == 0 {
		return "", zroi.ErrEmptyScaleMap
	}
	padded, err := Pad(target, m.Dims())
	if err != nil {
		return "", err
	}
	best := m.levels[0]
	bestDist := floats.Distance(m.scales[best], padded, 2)
	for _, level := range m.levels[1:] {
		if dist := floats.Distance(m.scales[level], padded, 2); dist < bestDist {
			best, bestDist = level, dist
		}
	}
	return best, nil
}

// Pad returns the target with dims components.  Only a target one component
// short is accepted and gets a leading 1.
func Pad(target Vector, dims int) (Vector, error) {
	switch len(target) {
	case dims:
		return target, nil
	case dims - 1:
		return append(Vector{1}, target...), nil
	}
	return nil, fmt.Errorf("%w: target scale %s has %d components, levels have %d",
		zroi.ErrDimensionMismatch, target, len(target), dims)
}
