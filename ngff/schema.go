package ngff

import "github.com/santhosh-tekuri/jsonschema/v5"

// String representing the JSON schema for the parts of a group's .zattrs we read.
// It is deliberately loose: unknown keys pass, and missing scale transformations
// are reported by ScaleMap instead.
const attrsSchema = `
{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "OME-NGFF image, label and plate group attributes",
  "type": "object",
  "properties": {
    "multiscales": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["datasets"],
        "properties": {
          "version": { "type": "string" },
          "name": { "type": "string" },
          "axes": {
            "type": "array",
            "items": {
              "anyOf": [
                { "type": "string" },
                {
                  "type": "object",
                  "required": ["name"],
                  "properties": {
                    "name": { "type": "string" },
                    "type": { "type": "string" },
                    "unit": { "type": "string" }
                  }
                }
              ]
            }
          },
          "datasets": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["path"],
              "properties": {
                "path": { "type": "string" },
                "coordinateTransformations": {
                  "type": "array",
                  "items": { "$ref": "#/definitions/transformation" }
                }
              }
            }
          },
          "coordinateTransformations": {
            "type": "array",
            "items": { "$ref": "#/definitions/transformation" }
          }
        }
      }
    },
    "omero": {
      "type": "object",
      "properties": {
        "channels": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "label": { "type": "string" },
              "wavelength_id": { "type": "string" },
              "color": { "type": "string" },
              "active": { "type": "boolean" }
            }
          }
        }
      }
    },
    "labels": {
      "type": "array",
      "items": { "type": "string" }
    },
    "tables": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "definitions": {
    "transformation": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string" },
        "scale": { "type": "array", "items": { "type": "number" } },
        "translation": { "type": "array", "items": { "type": "number" } },
        "path": { "type": "string" }
      }
    }
  }
}
`

var compiledAttrsSchema = jsonschema.MustCompileString("ngff-attrs.json", attrsSchema)
