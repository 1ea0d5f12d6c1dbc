package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fractal-analytics-platform/zroi/anndata"
	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/scale"
	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// SegmentationArgs are the arguments of convert_2D_segmentation_to_3D.
type SegmentationArgs struct {
	InputPaths      []string               `json:"input_paths"`
	OutputPath      string                 `json:"output_path"`
	Component       string                 `json:"component"`
	Metadata        map[string]interface{} `json:"metadata"`
	LabelName       string                 `json:"label_name"`
	ROITablesToCopy []string               `json:"ROI_tables_to_copy"`
	NewLabelName    string                 `json:"new_label_name,omitempty"`
	NewTableNames   []string               `json:"new_table_names,omitempty"`
	Level           int                    `json:"level"`
	Suffix          string                 `json:"suffix,omitempty"`
}

// Locations returns the locations of the 2-D image named by the component and of
// the 3-D image it was projected from.
func (args *SegmentationArgs) Locations() (src, dst string, err error) {
	if len(args.InputPaths) == 0 {
		return "", "", fmt.Errorf("%w: no input paths", zroi.ErrInvalidArguments)
	}
	suffix := args.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	src = joinLocation(args.InputPaths[0], args.Component)
	dst = joinLocation(args.InputPaths[0], strings.ReplaceAll(args.Component, "_"+suffix+".zarr", ".zarr"))
	if src == dst {
		return "", "", fmt.Errorf("%w: component %q has no %q suffix", zroi.ErrInvalidArguments, args.Component, suffix)
	}
	return src, dst, nil
}

// Convert2DSegmentationTo3D copies a label image of a 2-D image into the 3-D
// image it was projected from.  The label plane is replicated along z to the
// number of z planes of the 3-D image's highest resolution level, and the given
// ROI tables are copied with their z length spanning all planes.  Only level 0 of
// the label image is supported and no lower resolution levels are built.
func Convert2DSegmentationTo3D(ctx context.Context, mgr *storage.Manager, args SegmentationArgs) error {
	if args.Level != 0 {
		return fmt.Errorf("%w: only level 0 can be converted, got %d", zroi.ErrNotImplemented, args.Level)
	}
	newLabel := args.NewLabelName
	if newLabel == "" {
		newLabel = args.LabelName
	}
	newTables := args.NewTableNames
	if len(newTables) == 0 {
		newTables = args.ROITablesToCopy
	}
	if len(newTables) != len(args.ROITablesToCopy) {
		return fmt.Errorf("%w: %d new table names for %d tables", zroi.ErrInvalidArguments,
			len(newTables), len(args.ROITablesToCopy))
	}
	srcLoc, dstLoc, err := args.Locations()
	if err != nil {
		return err
	}
	src, err := mgr.Open(ctx, srcLoc)
	if err != nil {
		return err
	}
	dst, err := mgr.Open(ctx, dstLoc)
	if err != nil {
		return err
	}

	image, err := readImage3D(ctx, dst)
	if err != nil {
		return fmt.Errorf("3-D image %q: %w", dstLoc, err)
	}
	labelPath := "labels/" + args.LabelName
	level := strconv.Itoa(args.Level)
	plane, labelMs, chunks, err := readLabelPlane(ctx, src, labelPath, level)
	if err != nil {
		return fmt.Errorf("label %q of %q: %w", args.LabelName, srcLoc, err)
	}

	if err := writeLabel3D(ctx, dst, newLabel, plane.Repeat(image.zPlanes), chunks, image, labelMs, level); err != nil {
		return fmt.Errorf("writing label %q into %q: %w", newLabel, dstLoc, err)
	}
	zroi.Infof("Wrote label %q of %s with %d z planes into %s\n", args.LabelName, srcLoc, image.zPlanes, dstLoc)

	zLength := image.zPixel * float64(image.zPlanes)
	for i, name := range args.ROITablesToCopy {
		if err := copyTable(ctx, src, dst, name, newTables[i], zLength); err != nil {
			return err
		}
		zroi.Infof("Copied ROI table %q of %s into %s as %q\n", name, srcLoc, dstLoc, newTables[i])
	}
	return nil
}

// image3D describes the 3-D target image.
type image3D struct {
	ms      *ngff.Multiscale
	zPlanes int
	zPixel  float64
}

func readImage3D(ctx context.Context, st *storage.Store) (*image3D, error) {
	data, err := zarr.ReadAttrs(ctx, st, "")
	if err != nil {
		return nil, err
	}
	attrs, err := ngff.ParseAttrs(data)
	if err != nil {
		return nil, err
	}
	ms, err := attrs.Multiscale(0)
	if err != nil {
		return nil, err
	}
	ds := ms.Datasets[0]
	sv, found := ds.Scale()
	if !found {
		return nil, fmt.Errorf("%w: dataset %q", zroi.ErrNoScaleTransformation, ds.Path)
	}
	arr, err := zarr.Open(ctx, st, ds.Path)
	if err != nil {
		return nil, err
	}
	shape := arr.Shape()
	z, _, _ := ms.SpatialIndices(len(shape))
	if z < 0 || z >= len(sv) {
		return nil, fmt.Errorf("%w: no z axis among %d dimensions", zroi.ErrInvalidMetadata, len(shape))
	}
	return &image3D{ms: ms, zPlanes: shape[z], zPixel: sv[z]}, nil
}

// readLabelPlane returns the 2-D plane of a label image level together with the
// label multiscale and the 3-D chunk shape to store the replicated stack with.
func readLabelPlane(ctx context.Context, st *storage.Store, labelPath, level string) (*zarr.NdArray, *ngff.Multiscale, []int, error) {
	data, err := zarr.ReadAttrs(ctx, st, labelPath)
	if err != nil {
		return nil, nil, nil, err
	}
	attrs, err := ngff.ParseAttrs(data)
	if err != nil {
		return nil, nil, nil, err
	}
	ms, err := attrs.Multiscale(0)
	if err != nil {
		return nil, nil, nil, err
	}
	arr, err := zarr.Open(ctx, st, labelPath+"/"+level)
	if err != nil {
		return nil, nil, nil, err
	}
	label, err := arr.ReadAll(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	plane := label.Squeeze(2)
	if len(plane.Shape) != 2 {
		return nil, nil, nil, fmt.Errorf("%w: label of shape %v is not a single plane",
			zroi.ErrDimensionMismatch, label.Shape)
	}
	chunks := arr.Meta().Chunks
	return plane, ms, []int{1, chunks[len(chunks)-2], chunks[len(chunks)-1]}, nil
}

func writeLabel3D(ctx context.Context, st *storage.Store, name string, stack *zarr.NdArray, chunks []int,
	image *image3D, labelMs *ngff.Multiscale, level string) error {

	// labels group
	data, err := zarr.ReadAttrs(ctx, st, "labels")
	if errors.Is(err, zroi.ErrNotFound) {
		if err := zarr.CreateGroup(ctx, st, "labels"); err != nil {
			return err
		}
		data = nil
	} else if err != nil {
		return err
	}
	if data, err = ngff.AppendToList(data, "labels", name); err != nil {
		return err
	}
	if err := zarr.WriteAttrs(ctx, st, "labels", data); err != nil {
		return err
	}

	// label multiscale
	labelPath := "labels/" + name
	if err := zarr.CreateGroup(ctx, st, labelPath); err != nil {
		return err
	}
	ms, err := labelMultiscale(name, image, labelMs, level)
	if err != nil {
		return err
	}
	attrs := ngff.Attrs{
		Multiscales: []ngff.Multiscale{*ms},
		ImageLabel:  &ngff.ImageLabel{Version: ms.Version, Source: map[string]interface{}{"image": "../../"}},
	}
	if data, err = attrs.Marshal(); err != nil {
		return err
	}
	if err := zarr.WriteAttrs(ctx, st, labelPath, data); err != nil {
		return err
	}

	// level 0 array
	compressor := zarr.DefaultCompressor
	arr, err := zarr.Create(ctx, st, labelPath+"/0", zarr.ArrayMeta{
		Shape:              stack.Shape,
		Chunks:             chunks,
		Dtype:              stack.Dtype,
		Compressor:         &compressor,
		FillValue:          0,
		DimensionSeparator: "/",
	})
	if err != nil {
		return err
	}
	return arr.WriteRegion(ctx, []int{0, 0, 0}, stack)
}

// labelMultiscale returns the metadata of the 3-D label: the axes of the 3-D
// image without the channel axis and the label's level dataset with its z pixel
// size set to that of the 3-D image.
func labelMultiscale(name string, image *image3D, labelMs *ngff.Multiscale, level string) (*ngff.Multiscale, error) {
	src, found := labelMs.Dataset(level)
	if !found {
		return nil, fmt.Errorf("%w: pyramid level %q", zroi.ErrNotFound, level)
	}
	sv, found := src.Scale()
	if !found {
		return nil, fmt.Errorf("%w: dataset %q", zroi.ErrNoScaleTransformation, level)
	}
	ms := &ngff.Multiscale{
		Version: image.ms.Version,
		Name:    name,
		Axes:    image.ms.NonChannelAxes(),
	}
	if len(ms.Axes) != 3 {
		ms.Axes = []ngff.Axis{{Name: "z", Type: "space"}, {Name: "y", Type: "space"}, {Name: "x", Type: "space"}}
	}
	z, _, _ := ms.SpatialIndices(3)

	sv3, err := zyx(sv, image.zPixel, z)
	if err != nil {
		return nil, err
	}
	ds := ngff.Dataset{Path: "0"}
	for _, ct := range src.CoordinateTransformations {
		if ct.Type == "translation" {
			if ct.Translation, err = zyx(ct.Translation, 0, z); err != nil {
				return nil, err
			}
		}
		ds.CoordinateTransformations = append(ds.CoordinateTransformations, ct)
	}
	ds.SetScale(sv3)
	ms.Datasets = []ngff.Dataset{ds}
	return ms, nil
}

// zyx returns the trailing three components of a 2-D or 3-D label vector with
// the z component at position z set to zValue.
func zyx(v []float64, zValue float64, z int) (scale.Vector, error) {
	var out scale.Vector
	switch {
	case len(v) >= 3:
		out = append(out, v[len(v)-3:]...)
	case len(v) == 2:
		out = append(scale.Vector{0}, v...)
	default:
		return nil, fmt.Errorf("%w: label vector %v has fewer than 2 components",
			zroi.ErrDimensionMismatch, v)
	}
	if z >= 0 {
		out[z] = zValue
	}
	return out, nil
}

func copyTable(ctx context.Context, src, dst *storage.Store, name, newName string, zLength float64) error {
	t, err := anndata.Read(ctx, src, anndata.TablesGroup+"/"+name)
	if err != nil {
		return fmt.Errorf("ROI table %q: %w", name, err)
	}
	if t, err = t.WithColumn(roi.DefaultColumns.Length[2], zLength); err != nil {
		return fmt.Errorf("ROI table %q: %w", name, err)
	}
	if err := anndata.Write(ctx, dst, anndata.TablesGroup+"/"+newName, t); err != nil {
		return err
	}
	return anndata.AddTableToGroup(ctx, dst, newName)
}

func runSegmentation(ctx context.Context, mgr *storage.Manager, runID string, data []byte) (interface{}, error) {
	var args SegmentationArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	zroi.Debugf("[%s] converting label %q of %s\n", runID, args.LabelName, args.Component)
	if err := Convert2DSegmentationTo3D(ctx, mgr, args); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}
