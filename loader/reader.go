package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fractal-analytics-platform/zroi/anndata"
	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Slice is a half-open box [Lo, Hi) over all dimensions of a pyramid level.
type Slice struct {
	Lo, Hi []int
}

func (s Slice) String() string {
	return fmt.Sprintf("[%s)-[%s)", zroi.FormatInts(s.Lo), zroi.FormatInts(s.Hi))
}

// Reader gives the loader access to stored images.  Locations name OME-Zarr
// image or label groups.
type Reader interface {
	// ReadScaleMetadata returns the group attributes at the location.
	ReadScaleMetadata(ctx context.Context, location string) (*ngff.Attrs, error)

	// ReadTable returns the named ROI table of the image at the location.
	ReadTable(ctx context.Context, location, tableName string) (*roi.Table, error)

	// ReadArraySlice materializes a box of the given pyramid level.
	ReadArraySlice(ctx context.Context, location, level string, s Slice) (*zarr.NdArray, error)

	// ListTables returns the names of the tables of the image at the location.
	ListTables(ctx context.Context, location string) ([]string, error)
}

// ZarrReader reads OME-Zarr images through a storage manager.
type ZarrReader struct {
	mgr *storage.Manager
}

// NewZarrReader returns a Reader over the given storage manager.
func NewZarrReader(mgr *storage.Manager) *ZarrReader {
	return &ZarrReader{mgr: mgr}
}

func (r *ZarrReader) ReadScaleMetadata(ctx context.Context, location string) (*ngff.Attrs, error) {
	st, err := r.mgr.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	data, err := zarr.ReadAttrs(ctx, st, "")
	if err != nil {
		return nil, fmt.Errorf("metadata of %q: %w", location, err)
	}
	attrs, err := ngff.ParseAttrs(data)
	if err != nil {
		return nil, fmt.Errorf("metadata of %q: %w", location, err)
	}
	return attrs, nil
}

func (r *ZarrReader) ReadTable(ctx context.Context, location, tableName string) (*roi.Table, error) {
	st, err := r.mgr.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	return anndata.Read(ctx, st, anndata.TablesGroup+"/"+tableName)
}

func (r *ZarrReader) ReadArraySlice(ctx context.Context, location, level string, s Slice) (*zarr.NdArray, error) {
	st, err := r.mgr.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	arr, err := zarr.Open(ctx, st, level)
	if err != nil {
		return nil, fmt.Errorf("level %q of %q: %w", level, location, err)
	}
	return arr.ReadRegion(ctx, s.Lo, s.Hi)
}

// ListTables returns the tables recorded in the tables group attributes, or
// the sub-groups of the tables group if it has no attributes.  An image without
// tables has an empty list.
func (r *ZarrReader) ListTables(ctx context.Context, location string) ([]string, error) {
	st, err := r.mgr.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	tables, err := anndata.ListTables(ctx, st)
	if err == nil {
		return tables, nil
	}
	if !errors.Is(err, zroi.ErrNotFound) {
		return nil, err
	}
	names, err := st.List(ctx, anndata.TablesGroup)
	if err != nil {
		return nil, err
	}
	tables = []string{}
	for _, name := range names {
		if !strings.HasPrefix(name, ".") {
			tables = append(tables, name)
		}
	}
	return tables, nil
}
