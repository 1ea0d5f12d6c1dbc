/*
	Package ngff reads and writes the OME-NGFF attributes stored in the .zattrs
	document of OME-Zarr image, label and table groups.
*/
package ngff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blang/semver"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// SupportedVersionRange is the range of OME-NGFF versions whose multiscales
// layout we understand.  Other versions are read anyway with a warning.
const SupportedVersionRange = ">=0.1.0 <0.6.0"

// SupportedVersions tests a version against SupportedVersionRange.
var SupportedVersions = semver.MustParseRange(SupportedVersionRange)

// Axis describes one dimension of a multiscale image.  Older documents list
// axes as plain names; those decode into an Axis with only Name set.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// UnmarshalJSON accepts both the bare-name and object forms.
func (a *Axis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*a = Axis{}
		return json.Unmarshal(b, &a.Name)
	}
	type axis Axis
	var obj axis
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*a = Axis(obj)
	return nil
}

// IsSpatial returns true for axes of type "space" or, when no type is given,
// axes named x, y or z.
func (a Axis) IsSpatial() bool {
	if a.Type != "" {
		return a.Type == "space"
	}
	switch strings.ToLower(a.Name) {
	case "x", "y", "z":
		return true
	}
	return false
}

// IsChannel returns true for the channel axis.
func (a Axis) IsChannel() bool {
	return a.Type == "channel" || (a.Type == "" && strings.ToLower(a.Name) == "c")
}

// CoordinateTransformation maps a dataset's array coordinates to physical ones.
type CoordinateTransformation struct {
	Type        string    `json:"type"`
	Scale       []float64 `json:"scale,omitempty"`
	Translation []float64 `json:"translation,omitempty"`
	Path        string    `json:"path,omitempty"`
}

// Dataset is one pyramid level of a multiscale image.  Path is both the level id
// and the array's path relative to the group.
type Dataset struct {
	Path                      string                     `json:"path"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations,omitempty"`
}

// Multiscale is one entry of the "multiscales" list.
type Multiscale struct {
	Version                   string                     `json:"version,omitempty"`
	Name                      string                     `json:"name,omitempty"`
	Axes                      []Axis                     `json:"axes,omitempty"`
	Datasets                  []Dataset                  `json:"datasets"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations,omitempty"`
}

// Window is the display range of a channel.
type Window struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Channel is the rendering metadata of one channel in the "omero" block.
type Channel struct {
	Label        string  `json:"label"`
	WavelengthID string  `json:"wavelength_id,omitempty"`
	Color        string  `json:"color,omitempty"`
	Active       bool    `json:"active,omitempty"`
	Window       *Window `json:"window,omitempty"`
}

// Omero holds the rendering metadata of an image.
type Omero struct {
	Channels []Channel `json:"channels"`
}

// ImageLabel marks a multiscale group as a label image.
type ImageLabel struct {
	Version string                 `json:"version,omitempty"`
	Source  map[string]interface{} `json:"source,omitempty"`
}

// Attrs is the decoded .zattrs document of an OME-Zarr group.
type Attrs struct {
	Multiscales []Multiscale `json:"multiscales,omitempty"`
	Omero       *Omero       `json:"omero,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
	ImageLabel  *ImageLabel  `json:"image-label,omitempty"`
}

// ParseAttrs validates and decodes a .zattrs document.
func ParseAttrs(data []byte) (*Attrs, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	attrs := new(Attrs)
	if err := json.Unmarshal(data, attrs); err != nil {
		return nil, fmt.Errorf("%w: %v", zroi.ErrInvalidMetadata, err)
	}
	for i, ms := range attrs.Multiscales {
		checkVersion(i, ms.Version)
	}
	return attrs, nil
}

func validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: bad JSON: %v", zroi.ErrInvalidMetadata, err)
	}
	if err := compiledAttrsSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", zroi.ErrInvalidMetadata, err)
	}
	return nil
}

func checkVersion(i int, version string) {
	if version == "" {
		return
	}
	v, err := semver.ParseTolerant(version)
	if err != nil {
		zroi.Warningf("multiscales[%d] has unparseable version %q: %v\n", i, version, err)
		return
	}
	if !SupportedVersions(v) {
		zroi.Warningf("multiscales[%d] is OME-NGFF version %s, outside the supported range\n", i, v)
	}
}

// Marshal returns the JSON encoding of the attributes.
func (a *Attrs) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Multiscale returns the multiscales entry at the given index.
func (a *Attrs) Multiscale(index int) (*Multiscale, error) {
	if a == nil || index < 0 || index >= len(a.Multiscales) {
		return nil, fmt.Errorf("%w: no multiscales entry %d", zroi.ErrInvalidMetadata, index)
	}
	return &a.Multiscales[index], nil
}

// ChannelNames returns the omero channel labels in order, or nil if the image has
// no omero block.
func (a *Attrs) ChannelNames() []string {
	if a == nil || a.Omero == nil {
		return nil
	}
	names := make([]string, len(a.Omero.Channels))
	for i, ch := range a.Omero.Channels {
		names[i] = ch.Label
	}
	return names
}

// ChannelIndex returns the position of the channel with the given label.
func (a *Attrs) ChannelIndex(label string) (int, bool) {
	for i, name := range a.ChannelNames() {
		if name == label {
			return i, true
		}
	}
	return 0, false
}

// SpatialIndices returns the positions of the z, y and x axes within the
// multiscale's dimensions.  Z is -1 for 2-D images.  Without axis metadata the
// trailing ndim positions are used.
func (ms *Multiscale) SpatialIndices(ndim int) (z, y, x int) {
	z, y, x = -1, -1, -1
	for i, axis := range ms.Axes {
		switch strings.ToLower(axis.Name) {
		case "z":
			z = i
		case "y":
			y = i
		case "x":
			x = i
		}
	}
	if y >= 0 && x >= 0 {
		return
	}
	switch {
	case ndim >= 3:
		return ndim - 3, ndim - 2, ndim - 1
	case ndim == 2:
		return -1, 0, 1
	}
	return -1, -1, -1
}

// NonChannelAxes returns the axes other than the channel axis.
func (ms *Multiscale) NonChannelAxes() []Axis {
	var axes []Axis
	for _, axis := range ms.Axes {
		if !axis.IsChannel() {
			axes = append(axes, axis)
		}
	}
	return axes
}
