package ngff

import (
	"encoding/json"
	"fmt"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// TablesAttrs is the .zattrs document of an image's "tables" group.
type TablesAttrs struct {
	Tables []string `json:"tables"`
}

// ParseTablesAttrs decodes a tables group .zattrs document.
func ParseTablesAttrs(data []byte) (*TablesAttrs, error) {
	ta := new(TablesAttrs)
	if err := json.Unmarshal(data, ta); err != nil {
		return nil, fmt.Errorf("%w: tables attributes: %v", zroi.ErrInvalidMetadata, err)
	}
	return ta, nil
}

// AppendToList adds value to the string list stored under key in a .zattrs
// document, leaving all other keys untouched.  The value is not added twice.
// A nil or empty document is treated as {}.
func AppendToList(doc []byte, key, value string) ([]byte, error) {
	attrs := make(map[string]interface{})
	if len(doc) != 0 {
		if err := json.Unmarshal(doc, &attrs); err != nil {
			return nil, fmt.Errorf("%w: %v", zroi.ErrInvalidMetadata, err)
		}
	}
	var list []interface{}
	if cur, found := attrs[key]; found && cur != nil {
		var ok bool
		if list, ok = cur.([]interface{}); !ok {
			return nil, fmt.Errorf("%w: %q attribute is not a list", zroi.ErrInvalidMetadata, key)
		}
	}
	for _, item := range list {
		if item == value {
			return json.MarshalIndent(attrs, "", "  ")
		}
	}
	attrs[key] = append(list, value)
	return json.MarshalIndent(attrs, "", "  ")
}
