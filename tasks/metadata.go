package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// MetadataComponents are the metadata keys holding OME-Zarr component lists.
var MetadataComponents = []string{"image", "well", "plate"}

// MetadataArgs are the arguments of convert_metadata_components_2D_to_3D.
type MetadataArgs struct {
	InputPaths []string               `json:"input_paths"`
	OutputPath string                 `json:"output_path"`
	Metadata   map[string]interface{} `json:"metadata"`
	From2DTo3D *bool                  `json:"from_2d_to_3d,omitempty"`
	Suffix     string                 `json:"suffix,omitempty"`
}

// ConvertMetadataComponents returns a copy of the Fractal metadata where the
// image, well and plate components point at the 3-D OME-Zarr instead of the 2-D
// one ("plate_mip.zarr/B/03/0" becomes "plate.zarr/B/03/0"), or the reverse if
// from2Dto3D is false.  Other keys are kept as is.
func ConvertMetadataComponents(meta map[string]interface{}, from2Dto3D bool, suffix string) (map[string]interface{}, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	oldValue, newValue := "_"+suffix+".zarr", ".zarr"
	if !from2Dto3D {
		oldValue, newValue = newValue, oldValue
	}

	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, key := range MetadataComponents {
		v, found := meta[key]
		if !found {
			return nil, fmt.Errorf("%w: metadata has no %q list", zroi.ErrInvalidArguments, key)
		}
		components, err := stringList(key, v)
		if err != nil {
			return nil, err
		}
		converted := make([]string, len(components))
		for i, c := range components {
			converted[i] = strings.ReplaceAll(c, oldValue, newValue)
		}
		out[key] = converted
	}
	return out, nil
}

func stringList(key string, v interface{}) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		strs := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: metadata %q item %d is not a string", zroi.ErrInvalidArguments, key, i)
			}
			strs[i] = s
		}
		return strs, nil
	}
	return nil, fmt.Errorf("%w: metadata %q is not a list", zroi.ErrInvalidArguments, key)
}

func runMetadata(ctx context.Context, mgr *storage.Manager, runID string, data []byte) (interface{}, error) {
	var args MetadataArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	from2Dto3D := true
	if args.From2DTo3D != nil {
		from2Dto3D = *args.From2DTo3D
	}
	meta, err := ConvertMetadataComponents(args.Metadata, from2Dto3D, args.Suffix)
	if err != nil {
		return nil, err
	}
	zroi.Debugf("[%s] converted components of %d images\n", runID, len(meta["image"].([]string)))
	return meta, nil
}
