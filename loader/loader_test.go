package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"
	"gocloud.dev/blob/memblob"

	"github.com/fractal-analytics-platform/zroi/anndata"
	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/scale"
	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

func Test(t *testing.T) { TestingT(t) }

type LoaderSuite struct{}

var _ = Suite(&LoaderSuite{})

// fakeReader serves fixed metadata and tables and returns arrays whose every
// element holds the requested level number.
type fakeReader struct {
	mu     sync.Mutex
	attrs  map[string]*ngff.Attrs
	tables map[string]*roi.Table
	calls  map[string]int
	slices []Slice
	levels []string
}

func (f *fakeReader) count(what string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[what]++
}

func (f *fakeReader) ReadScaleMetadata(ctx context.Context, location string) (*ngff.Attrs, error) {
	f.count("metadata")
	attrs, found := f.attrs[location]
	if !found {
		return nil, fmt.Errorf("%w: %s", zroi.ErrNotFound, location)
	}
	return attrs, nil
}

func (f *fakeReader) ReadTable(ctx context.Context, location, tableName string) (*roi.Table, error) {
	f.count("table")
	t, found := f.tables[location+"/"+tableName]
	if !found {
		return nil, fmt.Errorf("%w: table %s", zroi.ErrNotFound, tableName)
	}
	return t, nil
}

func (f *fakeReader) ReadArraySlice(ctx context.Context, location, level string, s Slice) (*zarr.NdArray, error) {
	f.count("array")
	f.mu.Lock()
	f.slices = append(f.slices, s)
	f.levels = append(f.levels, level)
	f.mu.Unlock()
	shape := make([]int, len(s.Lo))
	for i := range shape {
		shape[i] = s.Hi[i] - s.Lo[i]
	}
	arr := zarr.NewNdArray(zarr.Uint16, shape)
	for i := 0; i < arr.Len(); i++ {
		arr.Data[2*i] = level[0] - '0'
	}
	return arr, nil
}

func (f *fakeReader) ListTables(ctx context.Context, location string) ([]string, error) {
	var names []string
	for _, name := range []string{"FOV_ROI_table", "well_ROI_table"} {
		if _, found := f.tables[location+"/"+name]; found {
			names = append(names, name)
		}
	}
	return names, nil
}

func multiscale(axes []ngff.Axis, scales ...[]float64) ngff.Multiscale {
	ms := ngff.Multiscale{Version: "0.4", Axes: axes}
	for i, s := range scales {
		ms.Datasets = append(ms.Datasets, ngff.Dataset{
			Path:                      fmt.Sprintf("%d", i),
			CoordinateTransformations: []ngff.CoordinateTransformation{{Type: "scale", Scale: s}},
		})
	}
	return ms
}

var (
	czyx = []ngff.Axis{{Name: "c", Type: "channel"}, {Name: "z", Type: "space"}, {Name: "y", Type: "space"}, {Name: "x", Type: "space"}}
	zyx  = czyx[1:]
)

func fovTable(c *C) *roi.Table {
	cols := []string{"x_micrometer", "y_micrometer", "z_micrometer",
		"len_x_micrometer", "len_y_micrometer", "len_z_micrometer"}
	t, err := roi.NewTable(cols, []string{"FOV_1", "FOV_2"}, [][]float64{
		{10, 20, 0, 2, 4, 2},
		{12, 20, 0, 2, 4, 2},
	})
	c.Assert(err, IsNil)
	return t
}

func newFake(c *C) *fakeReader {
	return &fakeReader{
		attrs: map[string]*ngff.Attrs{
			"img": {
				Multiscales: []ngff.Multiscale{multiscale(czyx, []float64{1, 1, 0.5, 0.5}, []float64{1, 1, 1, 1}, []float64{1, 1, 2, 2})},
				Omero:       &ngff.Omero{Channels: []ngff.Channel{{Label: "DAPI"}, {Label: "nanog"}}},
			},
			"img/labels":        {Labels: []string{"nuclei"}},
			"img/labels/nuclei": {Multiscales: []ngff.Multiscale{multiscale(zyx, []float64{1, 0.5, 0.5}, []float64{1, 1, 1})}},
		},
		tables: map[string]*roi.Table{"img/FOV_ROI_table": fovTable(c)},
		calls:  make(map[string]int),
	}
}

func (s *LoaderSuite) TestTargetScaleEqualsLevel(c *C) {
	fake := newFake(c)
	l := New(fake, DefaultConfig())
	arr, sv, err := l.LoadIntensityROI(context.Background(), "img", "FOV_2", 1, Target(scale.Vector{1, 1, 1, 1}), "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 1, 1})
	c.Assert(fake.levels, DeepEquals, []string{"1"})
	c.Assert(fake.slices[0], DeepEquals, Slice{Lo: []int{1, 0, 0, 2}, Hi: []int{2, 2, 4, 4}})
	c.Assert(arr.Shape, DeepEquals, []int{2, 4, 2})
	c.Assert(arr.Float64At(1, 3, 1), Equals, 1.0)
}

func (s *LoaderSuite) TestLevelSelection(c *C) {
	fake := newFake(c)
	l := New(fake, DefaultConfig())
	ctx := context.Background()

	_, sv, err := l.LoadIntensityROI(ctx, "img", "FOV_1", 0, LevelSelector{}, "FOV_ROI_table")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 0.5, 0.5})
	c.Assert(fake.slices[0], DeepEquals, Slice{Lo: []int{0, 0, 0, 0}, Hi: []int{1, 2, 8, 4}})

	// A 3-component target is padded for the channel axis.
	_, sv, err = l.LoadIntensityROI(ctx, "img", "FOV_1", 0, Target(scale.Vector{1, 1.9, 1.9}), "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 2, 2})

	// An explicit level wins over a target.
	_, sv, err = l.LoadIntensityROI(ctx, "img", "FOV_1", 0, LevelSelector{Level: "1", Target: scale.Vector{1, 1, 2, 2}}, "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 1, 1})

	_, _, err = l.LoadIntensityROI(ctx, "img", "FOV_1", 0, Level("7"), "")
	c.Assert(errors.Is(err, zroi.ErrNotFound), Equals, true)

	_, _, err = l.LoadIntensityROI(ctx, "img", "FOV_1", 0, Target(scale.Vector{1, 1}), "")
	c.Assert(errors.Is(err, zroi.ErrDimensionMismatch), Equals, true)
}

func (s *LoaderSuite) TestLabels(c *C) {
	fake := newFake(c)
	l := New(fake, DefaultConfig())
	ctx := context.Background()

	arr, sv, err := l.LoadLabelROI(ctx, "img", "FOV_1", "nuclei", scale.Vector{1, 1, 1, 1}, "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 1})
	c.Assert(fake.levels, DeepEquals, []string{"1"})
	c.Assert(fake.slices[0], DeepEquals, Slice{Lo: []int{0, 0, 0}, Hi: []int{2, 4, 2}})
	c.Assert(arr.Shape, DeepEquals, []int{2, 4, 2})

	_, sv, err = l.LoadLabelROI(ctx, "img", "FOV_1", "nuclei", nil, "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 0.5, 0.5})

	_, _, err = l.LoadLabelROI(ctx, "img", "FOV_1", "cells", nil, "")
	c.Assert(errors.Is(err, zroi.ErrNotFound), Equals, true)
}

func (s *LoaderSuite) TestErrors(c *C) {
	l := New(newFake(c), DefaultConfig())
	ctx := context.Background()

	_, _, err := l.LoadIntensityROI(ctx, "img", "FOV_9", 0, LevelSelector{}, "")
	c.Assert(errors.Is(err, zroi.ErrUnknownRoi), Equals, true)

	_, _, err = l.LoadIntensityROI(ctx, "img", "FOV_1", 0, LevelSelector{}, "well_ROI_table")
	c.Assert(errors.Is(err, zroi.ErrNotFound), Equals, true)

	_, _, err = l.LoadIntensityROI(ctx, "other", "FOV_1", 0, LevelSelector{}, "")
	c.Assert(errors.Is(err, zroi.ErrNotFound), Equals, true)

	_, _, err = l.LoadIntensityROI(ctx, "img", "FOV_1", -1, LevelSelector{}, "")
	c.Assert(errors.Is(err, zroi.ErrInvalidSelection), Equals, true)

	_, err = l.ChannelIndex(ctx, "img", "GFP")
	c.Assert(errors.Is(err, zroi.ErrInvalidSelection), Equals, true)
}

func (s *LoaderSuite) TestCache(c *C) {
	fake := newFake(c)
	l := New(fake, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := l.LoadIntensityROI(ctx, "img", "FOV_1", 0, LevelSelector{}, "")
		c.Assert(err, IsNil)
	}
	c.Assert(fake.calls["metadata"], Equals, 1)
	c.Assert(fake.calls["table"], Equals, 1)
	c.Assert(fake.calls["array"], Equals, 3)

	// Stale reads are accepted: changes behind the cache aren't seen.
	fake.tables["img/FOV_ROI_table"] = nil
	_, _, err := l.LoadIntensityROI(ctx, "img", "FOV_2", 0, LevelSelector{}, "")
	c.Assert(err, IsNil)

	// Capacity bounds the cache.
	fake = newFake(c)
	cfg := DefaultConfig()
	cfg.CacheEntries = 1
	l = New(fake, cfg)
	for i := 0; i < 2; i++ {
		_, _, err := l.LoadIntensityROI(ctx, "img", "FOV_1", 0, LevelSelector{}, "")
		c.Assert(err, IsNil)
	}
	c.Assert(fake.calls["metadata"], Equals, 2)
	c.Assert(fake.calls["table"], Equals, 2)
	c.Assert(l.cache.len(), Equals, 1)
}

func (s *LoaderSuite) TestCatalog(c *C) {
	l := New(newFake(c), DefaultConfig())
	opts, err := l.Catalog(context.Background(), "img", "")
	c.Assert(err, IsNil)
	c.Assert(opts.Tables, DeepEquals, []string{"FOV_ROI_table"})
	c.Assert(opts.ROIs, DeepEquals, []string{"FOV_1", "FOV_2"})
	c.Assert(opts.Channels, DeepEquals, []string{"DAPI", "nanog"})
	c.Assert(opts.Levels, DeepEquals, []string{"0", "1", "2"})
	c.Assert(opts.Labels, DeepEquals, []string{"nuclei"})

	ranges, err := l.ResolveTable(context.Background(), "img", "", Level("2"))
	c.Assert(err, IsNil)
	c.Assert(ranges["FOV_2"], Equals, roi.IndexRange{0, 2, 0, 2, 1, 2})
}

func (s *LoaderSuite) TestSliceFor2D(c *C) {
	ms := multiscale([]ngff.Axis{{Name: "c", Type: "channel"}, {Name: "y"}, {Name: "x"}}, []float64{1, 0.5, 0.5})
	sv := scale.Vector{1, 0.5, 0.5}
	px := pixelSize(&ms, sv)
	c.Assert(px, Equals, roi.PixelSize{1, 0.5, 0.5})

	sl, spatial, err := sliceFor(&ms, 3, roi.IndexRange{0, 1, 2, 4, 6, 8}, 1)
	c.Assert(err, IsNil)
	c.Assert(sl, DeepEquals, Slice{Lo: []int{1, 2, 6}, Hi: []int{2, 4, 8}})
	c.Assert(spatial, DeepEquals, []int{1, 2})

	ms = multiscale(zyx, []float64{1, 1, 1})
	_, _, err = sliceFor(&ms, 3, roi.IndexRange{0, 1, 0, 1, 0, 1}, 2)
	c.Assert(errors.Is(err, zroi.ErrInvalidSelection), Equals, true)
}

// writeImage stores a 2-channel czyx image with two levels, a nuclei label
// image and a FOV table.  Intensities are c*1000 + z*100 + y*10 + x, labels
// y*10 + x.
func writeImage(c *C, st *storage.Store) {
	ctx := context.Background()
	image := ngff.Attrs{
		Multiscales: []ngff.Multiscale{multiscale(czyx, []float64{1, 1, 0.5, 0.5}, []float64{1, 1, 1, 1})},
		Omero:       &ngff.Omero{Channels: []ngff.Channel{{Label: "DAPI"}, {Label: "nanog"}}},
	}
	data, err := image.Marshal()
	c.Assert(err, IsNil)
	c.Assert(zarr.CreateGroup(ctx, st, ""), IsNil)
	c.Assert(zarr.WriteAttrs(ctx, st, "", data), IsNil)

	comp := zarr.DefaultCompressor
	for level, size := range []int{8, 4} {
		arr, err := zarr.Create(ctx, st, fmt.Sprintf("%d", level), zarr.ArrayMeta{
			Shape: []int{2, 2, size, size}, Chunks: []int{1, 1, 4, 4}, Dtype: zarr.Uint16,
			Compressor: &comp, DimensionSeparator: "/",
		})
		c.Assert(err, IsNil)
		values := zarr.NewNdArray(zarr.Uint16, []int{2, 2, size, size})
		for ch := 0; ch < 2; ch++ {
			for z := 0; z < 2; z++ {
				for y := 0; y < size; y++ {
					for x := 0; x < size; x++ {
						values.SetFloat64(float64(ch*1000+z*100+y*10+x), ch, z, y, x)
					}
				}
			}
		}
		c.Assert(arr.WriteRegion(ctx, []int{0, 0, 0, 0}, values), IsNil)
	}

	labels, err := ngff.AppendToList(nil, "labels", "nuclei")
	c.Assert(err, IsNil)
	c.Assert(zarr.CreateGroup(ctx, st, "labels"), IsNil)
	c.Assert(zarr.WriteAttrs(ctx, st, "labels", labels), IsNil)
	nuclei := ngff.Attrs{Multiscales: []ngff.Multiscale{multiscale(zyx, []float64{1, 0.5, 0.5}, []float64{1, 1, 1})}}
	data, err = nuclei.Marshal()
	c.Assert(err, IsNil)
	c.Assert(zarr.WriteAttrs(ctx, st, "labels/nuclei", data), IsNil)
	for level, size := range []int{8, 4} {
		arr, err := zarr.Create(ctx, st, fmt.Sprintf("labels/nuclei/%d", level), zarr.ArrayMeta{
			Shape: []int{2, size, size}, Chunks: []int{2, 4, 4}, Dtype: zarr.Uint32, Compressor: &comp,
		})
		c.Assert(err, IsNil)
		values := zarr.NewNdArray(zarr.Uint32, []int{2, size, size})
		for z := 0; z < 2; z++ {
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					values.SetFloat64(float64(y*10+x), z, y, x)
				}
			}
		}
		c.Assert(arr.WriteRegion(ctx, []int{0, 0, 0}, values), IsNil)
	}

	c.Assert(anndata.Write(ctx, st, "tables/FOV_ROI_table", fovTable(c)), IsNil)
	c.Assert(anndata.AddTableToGroup(ctx, st, "FOV_ROI_table"), IsNil)
}

func (s *LoaderSuite) TestZarrEndToEnd(c *C) {
	ctx := context.Background()
	mgr := storage.NewManager(1)
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	mgr.Mount("plate.zarr", storage.NewStore(bucket, "mem://plates", "plate.zarr"))
	st, err := mgr.Open(ctx, "plate.zarr/B/03/0")
	c.Assert(err, IsNil)
	writeImage(c, st)

	l := New(NewZarrReader(mgr), DefaultConfig())
	loc := "plate.zarr/B/03/0"

	arr, sv, err := l.LoadIntensityROI(ctx, loc, "FOV_2", 1, Target(scale.Vector{1, 1, 1, 1}), "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 1, 1})
	c.Assert(arr.Shape, DeepEquals, []int{2, 4, 2})
	for z := 0; z < 2; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 2; x++ {
				c.Assert(arr.Float64At(z, y, x), Equals, float64(1000+z*100+y*10+x+2))
			}
		}
	}

	arr, _, err = l.LoadIntensityROI(ctx, loc, "FOV_2", 0, LevelSelector{}, "")
	c.Assert(err, IsNil)
	c.Assert(arr.Shape, DeepEquals, []int{2, 8, 4})
	c.Assert(arr.Float64At(1, 7, 3), Equals, float64(100+70+3+4))

	// An intensity scale with its channel component picks the matching label level.
	arr, sv, err = l.LoadLabelROI(ctx, loc, "FOV_1", "nuclei", scale.Vector{1, 1, 0.5, 0.5}, "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 0.5, 0.5})
	c.Assert(arr.Shape, DeepEquals, []int{2, 8, 4})
	c.Assert(arr.Dtype, Equals, zarr.Uint32)
	c.Assert(arr.Float64At(0, 5, 3), Equals, 53.0)

	arr, sv, err = l.LoadLabelROI(ctx, loc, "FOV_1", "nuclei", scale.Vector{1, 1, 1, 1}, "")
	c.Assert(err, IsNil)
	c.Assert(sv, DeepEquals, scale.Vector{1, 1, 1})
	c.Assert(arr.Shape, DeepEquals, []int{2, 4, 2})
	c.Assert(arr.Float64At(1, 3, 1), Equals, 31.0)

	opts, err := l.Catalog(ctx, loc, "")
	c.Assert(err, IsNil)
	c.Assert(opts.Tables, DeepEquals, []string{"FOV_ROI_table"})
	c.Assert(opts.Labels, DeepEquals, []string{"nuclei"})
	c.Assert(opts.Levels, DeepEquals, []string{"0", "1"})

	// Without tables/.zattrs the table group is listed.
	bare := storage.NewStore(bucket, "mem://plates", "bare.zarr")
	c.Assert(anndata.Write(ctx, bare, "tables/well_ROI_table", fovTable(c)), IsNil)
	mgr.Mount("bare.zarr", bare)
	tables, err := NewZarrReader(mgr).ListTables(ctx, "bare.zarr")
	c.Assert(err, IsNil)
	c.Assert(tables, DeepEquals, []string{"well_ROI_table"})
}
