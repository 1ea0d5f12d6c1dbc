/*
	Package loader loads the pixels of named regions-of-interest from OME-Zarr
	images.  For each request it reads the image's multiscales metadata and ROI
	table, picks the pyramid level, converts the ROI to index bounds at that level
	and materializes the box through a Reader.

	Metadata and tables are kept in a bounded LRU cache owned by the Loader.
*/
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/scale"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

const (
	// DefaultTable is used when no table name is given.
	DefaultTable = "FOV_ROI_table"

	// DefaultCacheEntries is the default capacity of the metadata and table cache.
	DefaultCacheEntries = 16
)

// Config holds loader settings.  Start from DefaultConfig.
type Config struct {
	// CacheEntries bounds the number of cached metadata documents and tables.
	CacheEntries int

	// Origin is the origin policy used when converting ROIs to indices.
	Origin roi.OriginPolicy

	// DefaultTable is the ROI table used when a request names none.
	DefaultTable string

	// Columns name the ROI position and length columns.  Zero means the
	// Fractal defaults.
	Columns roi.Columns
}

// DefaultConfig returns the default settings: 16 cache entries, origin reset to
// the table minimum, and the "FOV_ROI_table" table.
func DefaultConfig() Config {
	return Config{
		CacheEntries: DefaultCacheEntries,
		Origin:       roi.ResetToMin,
		DefaultTable: DefaultTable,
	}
}

// LevelSelector chooses a pyramid level either explicitly or as the level
// closest to a target scale.  An explicit level takes precedence.  The zero
// value selects level "0".
type LevelSelector struct {
	Level  string
	Target scale.Vector
}

// Level returns a selector for an explicit level.
func Level(level string) LevelSelector {
	return LevelSelector{Level: level}
}

// Target returns a selector for the level closest to the given scale.
func Target(v scale.Vector) LevelSelector {
	return LevelSelector{Target: v}
}

func (sel LevelSelector) String() string {
	switch {
	case sel.Level != "":
		return "level " + sel.Level
	case sel.Target != nil:
		return "closest to " + sel.Target.String()
	}
	return "level 0"
}

// Loader loads ROIs from images read through a Reader.  It is safe for
// concurrent use.
type Loader struct {
	reader   Reader
	config   Config
	resolver roi.Resolver
	cache    *cache
}

// New returns a Loader.  Zero CacheEntries and DefaultTable settings are
// replaced by their defaults.
func New(reader Reader, config Config) *Loader {
	if config.CacheEntries <= 0 {
		config.CacheEntries = DefaultCacheEntries
	}
	if config.DefaultTable == "" {
		config.DefaultTable = DefaultTable
	}
	return &Loader{
		reader:   reader,
		config:   config,
		resolver: roi.Resolver{Origin: config.Origin, Columns: config.Columns},
		cache:    newCache(config.CacheEntries),
	}
}

// Config returns the loader settings.
func (l *Loader) Config() Config {
	return l.config
}

// LoadIntensityROI returns the named ROI of one channel of the image at the
// location, together with the scale vector of the level it was read from.
// The result has the image's spatial dimensions (z, y, x or y, x).
func (l *Loader) LoadIntensityROI(ctx context.Context, location, roiName string, channel int,
	sel LevelSelector, tableName string) (*zarr.NdArray, scale.Vector, error) {

	timedLog := zroi.NewTimeLog()
	if channel < 0 {
		return nil, nil, fmt.Errorf("%w: channel %d", zroi.ErrInvalidSelection, channel)
	}
	ms, sm, err := l.scaleMap(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	level, err := l.pickLevel(sel, sm)
	if err != nil {
		return nil, nil, err
	}
	arr, sv, err := l.load(ctx, location, location, roiName, ms, sm, level, channel, tableName)
	if err != nil {
		return nil, nil, err
	}
	timedLog.Debugf("Loaded ROI %q channel %d of %q at level %s", roiName, channel, location, level)
	return arr, sv, nil
}

// LoadLabelROI returns the named ROI of a label image of the image at the
// location.  With a nil target, level "0" of the label image is used; otherwise
// the level closest to target.  A target with one component more than the label
// scales, as happens when passing an intensity scale with a channel axis, has its
// leading component dropped.
func (l *Loader) LoadLabelROI(ctx context.Context, location, roiName, labelName string,
	target scale.Vector, tableName string) (*zarr.NdArray, scale.Vector, error) {

	timedLog := zroi.NewTimeLog()
	labelLoc := LabelLocation(location, labelName)
	ms, sm, err := l.scaleMap(ctx, labelLoc)
	if err != nil {
		return nil, nil, err
	}
	sel := LevelSelector{}
	if target != nil {
		if len(target) == sm.Dims()+1 {
			target = target[1:]
		}
		sel.Target = target
	}
	level, err := l.pickLevel(sel, sm)
	if err != nil {
		return nil, nil, err
	}
	arr, sv, err := l.load(ctx, location, labelLoc, roiName, ms, sm, level, -1, tableName)
	if err != nil {
		return nil, nil, err
	}
	timedLog.Debugf("Loaded ROI %q of label %q of %q at level %s", roiName, labelName, location, level)
	return arr, sv, nil
}

// LabelLocation returns the location of a label image of an image.
func LabelLocation(location, labelName string) string {
	return strings.TrimRight(location, "/") + "/labels/" + labelName
}

// ResolveTable returns the index ranges of all ROIs of a table at a level of
// the image.
func (l *Loader) ResolveTable(ctx context.Context, location, tableName string, sel LevelSelector) (map[string]roi.IndexRange, error) {
	ms, sm, err := l.scaleMap(ctx, location)
	if err != nil {
		return nil, err
	}
	level, err := l.pickLevel(sel, sm)
	if err != nil {
		return nil, err
	}
	sv, _ := sm.Get(level)
	table, err := l.table(ctx, location, tableName)
	if err != nil {
		return nil, err
	}
	return l.resolver.Resolve(table, pixelSize(ms, sv))
}

// load reads the ROI from the image or label group at arrayLoc, using the ROI
// table of the image at imageLoc.  A negative channel selects none.
func (l *Loader) load(ctx context.Context, imageLoc, arrayLoc, roiName string, ms *ngff.Multiscale,
	sm *scale.Map, level string, channel int, tableName string) (*zarr.NdArray, scale.Vector, error) {

	sv, _ := sm.Get(level)
	table, err := l.table(ctx, imageLoc, tableName)
	if err != nil {
		return nil, nil, err
	}
	ir, err := l.resolver.ResolveOne(table, roiName, pixelSize(ms, sv))
	if err != nil {
		return nil, nil, err
	}
	slice, spatial, err := sliceFor(ms, len(sv), ir, channel)
	if err != nil {
		return nil, nil, err
	}
	arr, err := l.reader.ReadArraySlice(ctx, arrayLoc, level, slice)
	if err != nil {
		return nil, nil, err
	}
	shape := make([]int, len(spatial))
	for i, dim := range spatial {
		if dim >= len(arr.Shape) {
			return nil, nil, fmt.Errorf("%w: level %q of %q has %d dimensions, metadata has %d",
				zroi.ErrDimensionMismatch, level, arrayLoc, len(arr.Shape), len(sv))
		}
		shape[i] = arr.Shape[dim]
	}
	if arr, err = arr.Reshape(shape...); err != nil {
		return nil, nil, err
	}
	return arr, sv, nil
}

func (l *Loader) pickLevel(sel LevelSelector, sm *scale.Map) (string, error) {
	switch {
	case sel.Level != "":
		if _, found := sm.Get(sel.Level); !found {
			return "", fmt.Errorf("%w: pyramid level %q", zroi.ErrNotFound, sel.Level)
		}
		return sel.Level, nil
	case sel.Target != nil:
		return scale.Closest(sel.Target, sm)
	}
	if _, found := sm.Get("0"); !found {
		return "", fmt.Errorf("%w: pyramid level \"0\"", zroi.ErrNotFound)
	}
	return "0", nil
}

// pixelSize returns the z, y, x components of a scale vector.  2-d images
// get a z size of 1.
func pixelSize(ms *ngff.Multiscale, sv scale.Vector) roi.PixelSize {
	z, y, x := ms.SpatialIndices(len(sv))
	px := roi.PixelSize{1, 1, 1}
	if z >= 0 {
		px[0] = sv[z]
	}
	if y >= 0 {
		px[1] = sv[y]
	}
	if x >= 0 {
		px[2] = sv[x]
	}
	return px
}

// sliceFor returns the box of an ndim-dimensional level holding the index
// range, and the positions of the spatial dimensions kept in the result.
// The channel axis is cut at the given channel; other non-spatial axes at 0.
func sliceFor(ms *ngff.Multiscale, ndim int, ir roi.IndexRange, channel int) (Slice, []int, error) {
	z, y, x := ms.SpatialIndices(ndim)
	if y < 0 || x < 0 {
		return Slice{}, nil, fmt.Errorf("%w: can't find y and x among %d dimensions", zroi.ErrInvalidMetadata, ndim)
	}
	channelDim := -1
	for i, axis := range ms.Axes {
		if axis.IsChannel() {
			channelDim = i
		}
	}
	if len(ms.Axes) == 0 && ndim == 4 {
		channelDim = 0
	}
	if channel > 0 && channelDim < 0 {
		return Slice{}, nil, fmt.Errorf("%w: channel %d of an image without channel axis", zroi.ErrInvalidSelection, channel)
	}

	s := Slice{Lo: make([]int, ndim), Hi: make([]int, ndim)}
	var spatial []int
	for dim := 0; dim < ndim; dim++ {
		switch dim {
		case z:
			s.Lo[dim], s.Hi[dim] = ir.ZStart(), ir.ZEnd()
		case y:
			s.Lo[dim], s.Hi[dim] = ir.YStart(), ir.YEnd()
		case x:
			s.Lo[dim], s.Hi[dim] = ir.XStart(), ir.XEnd()
		case channelDim:
			c := max(channel, 0)
			s.Lo[dim], s.Hi[dim] = c, c+1
			continue
		default:
			s.Lo[dim], s.Hi[dim] = 0, 1
			continue
		}
		spatial = append(spatial, dim)
		if s.Lo[dim] < 0 {
			return Slice{}, nil, fmt.Errorf("ROI bounds %s start before the image", ir)
		}
	}
	return s, spatial, nil
}

func (l *Loader) scaleMap(ctx context.Context, location string) (*ngff.Multiscale, *scale.Map, error) {
	attrs, err := l.metadata(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	ms, err := attrs.Multiscale(0)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata of %q: %w", location, err)
	}
	sm, err := ms.ScaleMap()
	if err != nil {
		return nil, nil, fmt.Errorf("metadata of %q: %w", location, err)
	}
	return ms, sm, nil
}

func (l *Loader) metadata(ctx context.Context, location string) (*ngff.Attrs, error) {
	key := cacheKey{kind: metadataEntry, location: location}
	if v, found := l.cache.get(key); found {
		return v.(*ngff.Attrs), nil
	}
	attrs, err := l.reader.ReadScaleMetadata(ctx, location)
	if err != nil {
		return nil, err
	}
	l.cache.add(key, attrs)
	return attrs, nil
}

func (l *Loader) table(ctx context.Context, location, tableName string) (*roi.Table, error) {
	if tableName == "" {
		tableName = l.config.DefaultTable
	}
	key := cacheKey{kind: tableEntry, location: location, name: tableName}
	if v, found := l.cache.get(key); found {
		return v.(*roi.Table), nil
	}
	t, err := l.reader.ReadTable(ctx, location, tableName)
	if err != nil {
		return nil, err
	}
	l.cache.add(key, t)
	return t, nil
}
