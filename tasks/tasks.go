/*
	Package tasks implements Fractal workflow tasks that move work products of a
	2-D (maximum intensity projection) OME-Zarr back into the 3-D OME-Zarr it was
	derived from.

	Tasks take Fractal-style JSON arguments with snake_case keys.  Run validates
	the arguments against the task's JSON schema before executing it.
*/
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/twinj/uuid"

	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// DefaultSuffix marks the 2-D OME-Zarr of a projected plate, as in
// "plate_mip.zarr".
const DefaultSuffix = "mip"

// runner executes a task on already validated arguments and returns its result.
type runner func(ctx context.Context, mgr *storage.Manager, runID string, args []byte) (interface{}, error)

type task struct {
	description string
	schema      *jsonschema.Schema
	run         runner
}

var registry = map[string]task{
	"convert_2D_segmentation_to_3D": {
		description: "Replicate a 2-D label image along z into the 3-D OME-Zarr and copy ROI tables",
		schema:      jsonschema.MustCompileString("convert_2D_segmentation_to_3D.json", segmentationSchema),
		run:         runSegmentation,
	},
	"convert_metadata_components_2D_to_3D": {
		description: "Rewrite image, well and plate metadata components between 2-D and 3-D OME-Zarrs",
		schema:      jsonschema.MustCompileString("convert_metadata_components_2D_to_3D.json", metadataSchema),
		run:         runMetadata,
	},
}

// Names returns the names of the available tasks in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help returns a description of the available tasks.
func Help() string {
	var b strings.Builder
	for _, name := range Names() {
		fmt.Fprintf(&b, "  %-40s %s\n", name, registry[name].description)
	}
	return b.String()
}

// Run validates the JSON arguments of the named task and executes it, returning
// the task's JSON output.
func Run(ctx context.Context, mgr *storage.Manager, name string, args []byte) ([]byte, error) {
	t, found := registry[name]
	if !found {
		return nil, fmt.Errorf("%w: no task %q", zroi.ErrInvalidArguments, name)
	}
	if err := validateArgs(t.schema, args); err != nil {
		return nil, fmt.Errorf("task %s: %w", name, err)
	}

	runID := uuid.NewV4().String()
	timedLog := zroi.NewTimeLog()
	zroi.Infof("Starting task %s, run %s\n", name, runID)
	out, err := t.run(ctx, mgr, runID, args)
	if err != nil {
		zroi.Errorf("Task %s run %s failed: %v\n", name, runID, err)
		return nil, err
	}
	timedLog.Infof("Finished task %s, run %s", name, runID)
	return json.Marshal(out)
}

func validateArgs(schema *jsonschema.Schema, args []byte) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: bad JSON: %v", zroi.ErrInvalidArguments, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", zroi.ErrInvalidArguments, err)
	}
	return nil
}

func decodeArgs(args []byte, v interface{}) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", zroi.ErrInvalidArguments, err)
	}
	return nil
}

// joinLocation appends a component to a storage location given as a path or
// bucket URL.
func joinLocation(base, component string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(component, "/")
}
