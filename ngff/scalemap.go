package ngff

import (
	"fmt"

	"github.com/fractal-analytics-platform/zroi/scale"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// ScaleMap returns the per-level scales of the multiscales entry at index.
func (a *Attrs) ScaleMap(index int) (*scale.Map, error) {
	ms, err := a.Multiscale(index)
	if err != nil {
		return nil, err
	}
	return ms.ScaleMap()
}

// ScaleMap collects the "scale" transformation of every dataset, keyed by the
// dataset path.  Other transformation types are skipped.  If a dataset lists more
// than one scale transformation, the last one is used.
func (ms *Multiscale) ScaleMap() (*scale.Map, error) {
	m := scale.NewMap()
	for _, ds := range ms.Datasets {
		s, found := ds.Scale()
		if !found {
			return nil, fmt.Errorf("%w: dataset %q", zroi.ErrNoScaleTransformation, ds.Path)
		}
		if err := m.Set(ds.Path, s); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Scale returns the last scale transformation of the dataset.
func (ds Dataset) Scale() (scale.Vector, bool) {
	var s scale.Vector
	var found bool
	for _, ct := range ds.CoordinateTransformations {
		if ct.Type == "scale" {
			s, found = scale.Vector(ct.Scale), true
		}
	}
	return s, found
}

// SetScale replaces the scale transformations of the dataset with the given one,
// keeping other transformations in place.
func (ds *Dataset) SetScale(s scale.Vector) {
	var cts []CoordinateTransformation
	replaced := false
	for _, ct := range ds.CoordinateTransformations {
		if ct.Type != "scale" {
			cts = append(cts, ct)
			continue
		}
		if !replaced {
			cts = append(cts, CoordinateTransformation{Type: "scale", Scale: append([]float64(nil), s...)})
			replaced = true
		}
	}
	if !replaced {
		cts = append([]CoordinateTransformation{{Type: "scale", Scale: append([]float64(nil), s...)}}, cts...)
	}
	ds.CoordinateTransformations = cts
}

// Dataset returns the dataset with the given path.
func (ms *Multiscale) Dataset(path string) (*Dataset, bool) {
	for i := range ms.Datasets {
		if ms.Datasets[i].Path == path {
			return &ms.Datasets[i], true
		}
	}
	return nil, false
}
