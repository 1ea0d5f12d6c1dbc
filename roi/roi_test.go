package roi

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"

	"github.com/fractal-analytics-platform/zroi/zroi"

	. "github.com/janelia-flyem/go/gocheck"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type ROISuite struct{}

var _ = Suite(&ROISuite{})

var fovColumns = []string{
	"x_micrometer", "y_micrometer", "z_micrometer",
	"len_x_micrometer", "len_y_micrometer", "len_z_micrometer",
}

// two FOVs of 416x351 um side by side, acquired at an offset stage position.
func fovTable(c *C) *Table {
	t, err := NewTable(fovColumns, []string{"FOV_1", "FOV_2"}, [][]float64{
		{-1448.3, -1517.7, 0, 416, 351, 10},
		{-1032.3, -1517.7, 0, 416, 351, 10},
	})
	c.Assert(err, IsNil)
	return t
}

func (s *ROISuite) TestNewTable(c *C) {
	_, err := NewTable(fovColumns, []string{"a", "a"}, [][]float64{make([]float64, 6), make([]float64, 6)})
	c.Assert(err, ErrorMatches, `duplicate ROI name "a".*`)

	_, err = NewTable([]string{"x", "x"}, nil, nil)
	c.Assert(err, ErrorMatches, `duplicate column "x".*`)

	_, err = NewTable(fovColumns, []string{"a"}, [][]float64{{1, 2, 3}})
	c.Assert(err, ErrorMatches, `ROI "a" has 3 values, expected 6`)

	_, err = NewTable(fovColumns, []string{"a", "b"}, [][]float64{make([]float64, 6)})
	c.Assert(err, NotNil)

	t := fovTable(c)
	c.Assert(t.NumRows(), Equals, 2)
	c.Assert(t.Names(), DeepEquals, []string{"FOV_1", "FOV_2"})
	c.Assert(t.Has("FOV_2"), Equals, true)
	c.Assert(t.Has("FOV_3"), Equals, false)

	col, err := t.Column("x_micrometer")
	c.Assert(err, IsNil)
	c.Assert(col, DeepEquals, []float64{-1448.3, -1032.3})

	v, err := t.Value("FOV_2", "len_z_micrometer")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, 10.0)
}

func (s *ROISuite) TestSimpleRounding(c *C) {
	t, err := NewTable(fovColumns, []string{"only"}, [][]float64{{0, 0, 0, 10, 10, 10}})
	c.Assert(err, IsNil)

	ranges, err := Resolver{}.Resolve(t, PixelSize{2, 2, 2})
	c.Assert(err, IsNil)
	c.Assert(ranges["only"], Equals, IndexRange{0, 5, 0, 5, 0, 5})
}

func (s *ROISuite) TestRoundHalfToEven(c *C) {
	// 1/2 = 0.5 rounds to 0, 3/2 = 1.5 rounds to 2, 5/2 = 2.5 rounds to 2.
	t, err := NewTable(fovColumns, []string{"a"}, [][]float64{{1, 3, 5, 2, 2, 2}})
	c.Assert(err, IsNil)

	ir, err := Resolver{}.ResolveOne(t, "a", PixelSize{2, 2, 2})
	c.Assert(err, IsNil)
	// x: 0.5->0, 1.5->2; y: 1.5->2, 2.5->2; z: 2.5->2, 3.5->4
	c.Assert(ir, Equals, IndexRange{2, 4, 2, 2, 0, 2})
}

func (s *ROISuite) TestResetToMin(c *C) {
	t := fovTable(c)
	rs := Resolver{Origin: ResetToMin}
	ranges, err := rs.Resolve(t, PixelSize{1, 0.1625, 0.1625})
	c.Assert(err, IsNil)
	c.Assert(ranges, HasLen, 2)
	c.Assert(ranges["FOV_1"], Equals, IndexRange{0, 10, 0, 2160, 0, 2560})
	c.Assert(ranges["FOV_2"], Equals, IndexRange{0, 10, 0, 2160, 2560, 5120})

	// lowest start on each axis is exactly 0
	mins := [3]int{1 << 30, 1 << 30, 1 << 30}
	for _, ir := range ranges {
		lo := ir.Lo()
		for a := 0; a < 3; a++ {
			if lo[a] < mins[a] {
				mins[a] = lo[a]
			}
		}
	}
	c.Assert(mins, Equals, [3]int{0, 0, 0})
}

func (s *ROISuite) TestAbsoluteOrigin(c *C) {
	t, err := NewTable(fovColumns, []string{"a", "b"}, [][]float64{
		{100, 50, 2, 10, 10, 1},
		{110, 50, 2, 10, 10, 1},
	})
	c.Assert(err, IsNil)

	ranges, err := Resolver{Origin: Absolute}.Resolve(t, PixelSize{1, 0.5, 0.5})
	c.Assert(err, IsNil)
	c.Assert(ranges["a"], Equals, IndexRange{2, 3, 100, 120, 200, 220})
	c.Assert(ranges["b"], Equals, IndexRange{2, 3, 100, 120, 220, 240})

	// same table relative to its own minimum
	ranges, err = Resolver{Origin: ResetToMin}.Resolve(t, PixelSize{1, 0.5, 0.5})
	c.Assert(err, IsNil)
	c.Assert(ranges["a"], Equals, IndexRange{0, 1, 0, 20, 0, 20})
	c.Assert(ranges["b"], Equals, IndexRange{0, 1, 0, 20, 20, 40})
}

func (s *ROISuite) TestZeroLength(c *C) {
	t, err := NewTable(fovColumns, []string{"flat"}, [][]float64{{12.3, 4.5, 7, 20, 20, 0}})
	c.Assert(err, IsNil)
	for _, px := range []PixelSize{{1, 1, 1}, {0.3, 0.7, 0.7}, {5, 2.5, 0.1}} {
		ir, err := Resolver{}.ResolveOne(t, "flat", px)
		c.Assert(err, IsNil)
		c.Assert(ir.ZStart(), Equals, ir.ZEnd())
	}
}

func (s *ROISuite) TestIdempotent(c *C) {
	t := fovTable(c)
	rs := Resolver{Origin: ResetToMin}
	first, err := rs.Resolve(t, PixelSize{1, 0.65, 0.65})
	c.Assert(err, IsNil)
	second, err := rs.Resolve(t, PixelSize{1, 0.65, 0.65})
	c.Assert(err, IsNil)
	c.Assert(first, DeepEquals, second)

	one, err := rs.ResolveOne(t, "FOV_2", PixelSize{1, 0.65, 0.65})
	c.Assert(err, IsNil)
	c.Assert(one, Equals, first["FOV_2"])
}

func (s *ROISuite) TestMissingColumn(c *C) {
	t, err := NewTable(
		[]string{"x_micrometer", "y_micrometer", "len_x_micrometer", "len_y_micrometer", "len_z_micrometer"},
		[]string{"a"}, [][]float64{{0, 0, 1, 1, 1}})
	c.Assert(err, IsNil)

	_, err = Resolver{}.Resolve(t, PixelSize{1, 1, 1})
	c.Assert(errors.Is(err, zroi.ErrMissingColumn), Equals, true)
	c.Assert(err, ErrorMatches, `.*"z_micrometer".*`)

	_, err = Resolver{}.ResolveOne(t, "a", PixelSize{1, 1, 1})
	c.Assert(errors.Is(err, zroi.ErrMissingColumn), Equals, true)
}

func (s *ROISuite) TestCustomColumns(c *C) {
	t, err := NewTable([]string{"x", "y", "z", "dx", "dy", "dz"}, []string{"a"}, [][]float64{{4, 4, 0, 4, 4, 1}})
	c.Assert(err, IsNil)
	rs := Resolver{Columns: Columns{
		Position: [3]string{"x", "y", "z"},
		Length:   [3]string{"dx", "dy", "dz"},
	}}
	ir, err := rs.ResolveOne(t, "a", PixelSize{1, 2, 2})
	c.Assert(err, IsNil)
	c.Assert(ir, Equals, IndexRange{0, 1, 2, 4, 2, 4})

	_, err = Resolver{}.ResolveOne(t, "a", PixelSize{1, 2, 2})
	c.Assert(errors.Is(err, zroi.ErrMissingColumn), Equals, true)
}

func (s *ROISuite) TestErrors(c *C) {
	t := fovTable(c)
	_, err := Resolver{}.ResolveOne(t, "FOV_9", PixelSize{1, 1, 1})
	c.Assert(errors.Is(err, zroi.ErrUnknownRoi), Equals, true)

	for _, px := range []PixelSize{{0, 1, 1}, {1, -0.5, 1}, {1, 1, 0}} {
		_, err = Resolver{}.Resolve(t, px)
		c.Assert(errors.Is(err, zroi.ErrInvalidPixelSize), Equals, true)
	}

	empty, err := NewTable(fovColumns, nil, nil)
	c.Assert(err, IsNil)
	_, err = Resolver{Origin: ResetToMin}.Resolve(empty, PixelSize{1, 1, 1})
	c.Assert(errors.Is(err, zroi.ErrEmptyTable), Equals, true)
}

func (s *ROISuite) TestNonFiniteValues(c *C) {
	rows := [][][]float64{
		{{0, 0, 0, 10, 10, 10}, {math.NaN(), 0, 0, 10, math.Inf(1), 10}},
		{{math.NaN(), 0, 0, 10, 10, 10}, {5, 5, 5, 10, 10, 10}},
		{{0, 0, 0, 10, 10, 10}, {5, 5, 5, 10, 10, math.Inf(-1)}},
	}
	for _, values := range rows {
		t, err := NewTable(fovColumns, []string{"a", "b"}, values)
		c.Assert(err, IsNil)
		for _, policy := range []OriginPolicy{Absolute, ResetToMin} {
			ranges, err := Resolver{Origin: policy}.Resolve(t, PixelSize{1, 1, 1})
			c.Assert(errors.Is(err, zroi.ErrInvalidTable), Equals, true)
			c.Assert(ranges, IsNil)
			_, err = Resolver{Origin: policy}.ResolveOne(t, "a", PixelSize{1, 1, 1})
			c.Assert(errors.Is(err, zroi.ErrInvalidTable), Equals, true)
		}
	}
}

func (s *ROISuite) TestParseOriginPolicy(c *C) {
	p, err := ParseOriginPolicy("Reset")
	c.Assert(err, IsNil)
	c.Assert(p, Equals, ResetToMin)
	p, err = ParseOriginPolicy("absolute")
	c.Assert(err, IsNil)
	c.Assert(p, Equals, Absolute)
	_, err = ParseOriginPolicy("center")
	c.Assert(err, NotNil)
	c.Assert(ResetToMin.String(), Equals, "reset")
}

func (s *ROISuite) TestArrowExport(c *C) {
	t := fovTable(c)
	ranges, err := Resolver{Origin: ResetToMin}.Resolve(t, PixelSize{1, 0.1625, 0.1625})
	c.Assert(err, IsNil)

	var buf bytes.Buffer
	c.Assert(WriteArrowIPC(&buf, ranges, t.Names()), IsNil)

	reader, err := ipc.NewReader(&buf)
	c.Assert(err, IsNil)
	defer reader.Release()
	c.Assert(reader.Next(), Equals, true)
	rec := reader.Record()
	c.Assert(rec.NumRows(), Equals, int64(2))
	c.Assert(rec.NumCols(), Equals, int64(7))
	names := rec.Column(0).(*array.String)
	c.Assert(names.Value(1), Equals, "FOV_2")
	xStart := rec.Column(5).(*array.Int64)
	c.Assert(xStart.Value(1), Equals, int64(2560))

	_, err = IndexRecord(nil, ranges, []string{"FOV_3"})
	c.Assert(err, NotNil)
}
