package roi

import (
	"fmt"
	"math"
	"strings"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// IndexRange holds half-open voxel bounds (z_start, z_end, y_start, y_end, x_start, x_end)
// in the z, y, x axis order of the image arrays.
type IndexRange [6]int

func (r IndexRange) ZStart() int { return r[0] }
func (r IndexRange) ZEnd() int   { return r[1] }
func (r IndexRange) YStart() int { return r[2] }
func (r IndexRange) YEnd() int   { return r[3] }
func (r IndexRange) XStart() int { return r[4] }
func (r IndexRange) XEnd() int   { return r[5] }

// Lo returns the inclusive lower corner in z, y, x order.
func (r IndexRange) Lo() [3]int {
	return [3]int{r[0], r[2], r[4]}
}

// Hi returns the exclusive upper corner in z, y, x order.
func (r IndexRange) Hi() [3]int {
	return [3]int{r[1], r[3], r[5]}
}

// Size returns the number of voxels along z, y, x.
func (r IndexRange) Size() [3]int {
	return [3]int{r[1] - r[0], r[3] - r[2], r[5] - r[4]}
}

func (r IndexRange) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d]", r[0], r[1], r[2], r[3], r[4], r[5])
}

// PixelSize is the physical size of a voxel along z, y, x.
type PixelSize [3]float64

func (px PixelSize) validate() error {
	for i, v := range px {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d of (%g,%g,%g) must be positive",
				zroi.ErrInvalidPixelSize, i, px[0], px[1], px[2])
		}
	}
	return nil
}

// OriginPolicy determines what physical position maps to voxel index 0.
type OriginPolicy uint8

const (
	// Absolute treats table positions as already relative to the image origin.
	Absolute OriginPolicy = iota

	// ResetToMin shifts each axis so the lowest ROI position in the table is at 0.
	ResetToMin
)

func (p OriginPolicy) String() string {
	switch p {
	case Absolute:
		return "absolute"
	case ResetToMin:
		return "reset"
	}
	return fmt.Sprintf("OriginPolicy(%d)", uint8(p))
}

// ParseOriginPolicy accepts "absolute", "reset" or "reset-to-min".
func ParseOriginPolicy(s string) (OriginPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute", "abs":
		return Absolute, nil
	case "reset", "reset-to-min", "reset_to_min", "min":
		return ResetToMin, nil
	}
	return Absolute, fmt.Errorf("unknown origin policy %q, expected \"absolute\" or \"reset\"", s)
}

// Resolver converts ROI tables to index ranges.  The zero value uses absolute
// positions and the default Fractal column names.  A Resolver holds no state
// between calls and may be used concurrently.
type Resolver struct {
	Origin  OriginPolicy
	Columns Columns
}

// Resolve returns the index range of every ROI in the table for the given z, y, x
// pixel size.  Either all ROIs resolve or an error is returned.
func (rs Resolver) Resolve(t *Table, px PixelSize) (map[string]IndexRange, error) {
	records, origin, err := rs.prepare(t, px)
	if err != nil {
		return nil, err
	}
	ranges := make(map[string]IndexRange, len(records))
	for _, rec := range records {
		ranges[rec.Name] = indexRange(rec, origin, px)
	}
	return ranges, nil
}

// ResolveOne returns the index range of the named ROI.  The origin is still
// computed over the whole table, so the result equals the entry from Resolve.
func (rs Resolver) ResolveOne(t *Table, name string, px PixelSize) (IndexRange, error) {
	records, origin, err := rs.prepare(t, px)
	if err != nil {
		return IndexRange{}, err
	}
	for _, rec := range records {
		if rec.Name == name {
			return indexRange(rec, origin, px), nil
		}
	}
	return IndexRange{}, fmt.Errorf("%w: %q", zroi.ErrUnknownRoi, name)
}

func (rs Resolver) prepare(t *Table, px PixelSize) (records []Record, origin [3]float64, err error) {
	if err = px.validate(); err != nil {
		return
	}
	if t == nil || t.NumRows() == 0 {
		err = zroi.ErrEmptyTable
		return
	}
	if records, err = t.Records(rs.Columns); err != nil {
		return
	}
	if err = checkFinite(records); err != nil {
		return
	}
	switch rs.Origin {
	case Absolute:
	case ResetToMin:
		origin = minPosition(records)
	default:
		err = fmt.Errorf("unknown origin policy %s", rs.Origin)
	}
	return
}

func checkFinite(records []Record) error {
	for _, rec := range records {
		for a, axis := range "xyz" {
			if v := rec.Position[a]; math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: roi %q has %c position %v", zroi.ErrInvalidTable, rec.Name, axis, v)
			}
			if v := rec.Length[a]; math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: roi %q has %c length %v", zroi.ErrInvalidTable, rec.Name, axis, v)
			}
		}
	}
	return nil
}

// minPosition returns the per-axis minimum position in x, y, z order.
func minPosition(records []Record) [3]float64 {
	origin := records[0].Position
	for _, rec := range records[1:] {
		for a := 0; a < 3; a++ {
			if rec.Position[a] < origin[a] {
				origin[a] = rec.Position[a]
			}
		}
	}
	return origin
}

// indexRange converts one record.  Bounds are rounded half to even, so adjacent
// ROIs may overlap or leave a gap of one voxel.
func indexRange(rec Record, origin [3]float64, px PixelSize) IndexRange {
	var ir IndexRange
	for a := 0; a < 3; a++ { // a is x, y, z
		size := px[2-a]
		pos := rec.Position[a] - origin[a]
		start := math.RoundToEven(pos / size)
		end := math.RoundToEven((pos + rec.Length[a]) / size)
		ir[4-2*a] = int(start)
		ir[5-2*a] = int(end)
	}
	return ir
}
