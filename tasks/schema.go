package tasks

const segmentationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Convert2DSegmentationTo3D",
  "type": "object",
  "properties": {
    "input_paths": {
      "title": "Input Paths",
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"},
      "description": "List of paths to the input files (Fractal managed)"
    },
    "output_path": {
      "title": "Output Path",
      "type": "string",
      "description": "Path to the output file (Fractal managed)"
    },
    "component": {
      "title": "Component",
      "type": "string",
      "minLength": 1,
      "description": "Component name of the 2-D image, e.g. \"plate_name_mip.zarr/B/03/0\" (Fractal managed)"
    },
    "metadata": {
      "title": "Metadata",
      "type": "object",
      "description": "Metadata dictionary (Fractal managed)"
    },
    "label_name": {
      "title": "Label Name",
      "type": "string",
      "minLength": 1,
      "description": "Name of the label to copy from the 2-D OME-Zarr to the 3-D OME-Zarr"
    },
    "ROI_tables_to_copy": {
      "title": "Roi Tables To Copy",
      "type": "array",
      "items": {"type": "string"},
      "description": "ROI table names to copy from the 2-D OME-Zarr to the 3-D OME-Zarr"
    },
    "new_label_name": {
      "title": "New Label Name",
      "type": ["string", "null"],
      "description": "Optional new name of the label in the 3-D OME-Zarr"
    },
    "new_table_names": {
      "title": "New Table Names",
      "type": ["array", "null"],
      "items": {"type": "string"},
      "description": "Optional new names of the ROI tables in the 3-D OME-Zarr"
    },
    "level": {
      "title": "Level",
      "type": "integer",
      "default": 0,
      "description": "Level of the 2-D label image to copy from"
    },
    "suffix": {
      "title": "Suffix",
      "type": "string",
      "default": "mip",
      "description": "Suffix of the 2-D OME-Zarr"
    }
  },
  "required": ["input_paths", "output_path", "component", "metadata", "label_name", "ROI_tables_to_copy"],
  "additionalProperties": false
}`

const metadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ConvertMetadataComponents2DTo3D",
  "type": "object",
  "properties": {
    "input_paths": {
      "title": "Input Paths",
      "type": "array",
      "items": {"type": "string"},
      "description": "List of paths to the input files (Fractal managed)"
    },
    "output_path": {
      "title": "Output Path",
      "type": "string",
      "description": "Path to the output file (Fractal managed)"
    },
    "metadata": {
      "title": "Metadata",
      "type": "object",
      "properties": {
        "image": {"type": "array", "items": {"type": "string"}},
        "well": {"type": "array", "items": {"type": "string"}},
        "plate": {"type": "array", "items": {"type": "string"}}
      },
      "required": ["image", "well", "plate"],
      "description": "Metadata dictionary (Fractal managed)"
    },
    "from_2d_to_3d": {
      "title": "From 2D To 3D",
      "type": "boolean",
      "default": true,
      "description": "If true, removes the suffix from the components, otherwise adds it"
    },
    "suffix": {
      "title": "Suffix",
      "type": "string",
      "default": "mip",
      "description": "Suffix of the 2-D OME-Zarr"
    }
  },
  "required": ["input_paths", "output_path", "metadata"],
  "additionalProperties": false
}`
