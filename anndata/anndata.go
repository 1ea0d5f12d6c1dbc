/*
	Package anndata reads and writes ROI tables stored as AnnData zarr groups, the
	layout Fractal uses under an image's "tables" group:

		<table>/.zattrs       encoding-type "anndata"
		<table>/X             2-d float array, one row per ROI
		<table>/obs/_index    row (ROI) names
		<table>/var/_index    column names

	Only the X matrix and the obs/var indices are read; other obs and var columns
	are ignored and not written back.
*/
package anndata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/zarr"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// TablesGroup is the group holding an image's tables.
const TablesGroup = "tables"

type encoding struct {
	Type    string `json:"encoding-type,omitempty"`
	Version string `json:"encoding-version,omitempty"`
}

type dataframeAttrs struct {
	Index       string   `json:"_index"`
	ColumnOrder []string `json:"column-order"`
	encoding
}

// Read returns the ROI table stored at path.
func Read(ctx context.Context, store zarr.Store, path string) (*roi.Table, error) {
	rows, err := readIndex(ctx, store, path+"/obs")
	if err != nil {
		return nil, fmt.Errorf("table %q rows: %w", path, err)
	}
	cols, err := readIndex(ctx, store, path+"/var")
	if err != nil {
		return nil, fmt.Errorf("table %q columns: %w", path, err)
	}
	x, err := zarr.Open(ctx, store, path+"/X")
	if errors.Is(err, zroi.ErrNotFound) {
		if _, gerr := store.Get(ctx, path+"/X/"+zarr.KeyGroup); gerr == nil {
			return nil, fmt.Errorf("%w: sparse X matrix in table %q", zroi.ErrUnsupportedCodec, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", path, err)
	}
	if shape := x.Shape(); len(shape) != 2 || shape[0] != len(rows) || shape[1] != len(cols) {
		return nil, fmt.Errorf("%w: table %q X has shape %v for %d rows and %d columns",
			zroi.ErrInvalidMetadata, path, shape, len(rows), len(cols))
	}
	data, err := x.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", path, err)
	}
	flat, err := data.Float64s()
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", path, err)
	}
	values := make([][]float64, len(rows))
	for r := range values {
		values[r] = flat[r*len(cols) : (r+1)*len(cols)]
	}
	return roi.NewTable(cols, rows, values)
}

func readIndex(ctx context.Context, store zarr.Store, group string) ([]string, error) {
	indexKey := "_index"
	if attrsData, err := zarr.ReadAttrs(ctx, store, group); err == nil {
		var attrs dataframeAttrs
		if err := json.Unmarshal(attrsData, &attrs); err != nil {
			return nil, fmt.Errorf("%w: %s attributes: %v", zroi.ErrInvalidMetadata, group, err)
		}
		if attrs.Index != "" {
			indexKey = attrs.Index
		}
	} else if !errors.Is(err, zroi.ErrNotFound) {
		return nil, err
	}
	arr, err := zarr.Open(ctx, store, group+"/"+indexKey)
	if err != nil {
		return nil, err
	}
	return arr.ReadStrings(ctx)
}

// Write stores the table at path as an AnnData group with a float32 X matrix.
func Write(ctx context.Context, store zarr.Store, path string, t *roi.Table) error {
	if err := writeGroup(ctx, store, path, encoding{"anndata", "0.1.0"}); err != nil {
		return err
	}
	if err := writeIndex(ctx, store, path+"/obs", t.Names()); err != nil {
		return err
	}
	if err := writeIndex(ctx, store, path+"/var", t.Columns()); err != nil {
		return err
	}

	nrows, ncols := t.NumRows(), len(t.Columns())
	flat := make([]float64, 0, nrows*ncols)
	for _, name := range t.Names() {
		row, err := t.Row(name)
		if err != nil {
			return err
		}
		flat = append(flat, row...)
	}
	data, err := zarr.FromFloat64s(zarr.Float32, []int{nrows, ncols}, flat)
	if err != nil {
		return err
	}
	comp := zarr.DefaultCompressor
	x, err := zarr.Create(ctx, store, path+"/X", zarr.ArrayMeta{
		Shape:      []int{nrows, ncols},
		Chunks:     []int{max(nrows, 1), max(ncols, 1)},
		Dtype:      zarr.Float32,
		Compressor: &comp,
		FillValue:  0.0,
	})
	if err != nil {
		return err
	}
	if err := writeJSON(ctx, store, path+"/X/"+zarr.KeyAttributes, encoding{"array", "0.2.0"}); err != nil {
		return err
	}
	return x.WriteRegion(ctx, []int{0, 0}, data)
}

func writeIndex(ctx context.Context, store zarr.Store, group string, names []string) error {
	attrs := dataframeAttrs{Index: "_index", ColumnOrder: []string{}, encoding: encoding{"dataframe", "0.2.0"}}
	if err := zarr.CreateGroup(ctx, store, group); err != nil {
		return err
	}
	if err := writeJSON(ctx, store, group+"/"+zarr.KeyAttributes, attrs); err != nil {
		return err
	}
	if _, err := zarr.WriteStrings(ctx, store, group+"/_index", names); err != nil {
		return err
	}
	return writeJSON(ctx, store, group+"/_index/"+zarr.KeyAttributes, encoding{"string-array", "0.2.0"})
}

func writeGroup(ctx context.Context, store zarr.Store, path string, enc encoding) error {
	if err := zarr.CreateGroup(ctx, store, path); err != nil {
		return err
	}
	return writeJSON(ctx, store, path+"/"+zarr.KeyAttributes, enc)
}

func writeJSON(ctx context.Context, store zarr.Store, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// AddTableToGroup records the table name in the "tables" list of the image's
// tables group, creating the group if needed.  Names already listed are not
// added again.
func AddTableToGroup(ctx context.Context, store zarr.Store, name string) error {
	attrs, err := zarr.ReadAttrs(ctx, store, TablesGroup)
	if errors.Is(err, zroi.ErrNotFound) {
		if err := zarr.CreateGroup(ctx, store, TablesGroup); err != nil {
			return err
		}
		attrs = nil
	} else if err != nil {
		return err
	}
	updated, err := ngff.AppendToList(attrs, "tables", name)
	if err != nil {
		return err
	}
	return zarr.WriteAttrs(ctx, store, TablesGroup, updated)
}

// ListTables returns the table names recorded in the image's tables group.
func ListTables(ctx context.Context, store zarr.Store) ([]string, error) {
	data, err := zarr.ReadAttrs(ctx, store, TablesGroup)
	if err != nil {
		return nil, err
	}
	ta, err := ngff.ParseTablesAttrs(data)
	if err != nil {
		return nil, err
	}
	return ta.Tables, nil
}
