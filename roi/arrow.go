package roi

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

var boundNames = [6]string{"z_start", "z_end", "y_start", "y_end", "x_start", "x_end"}

// IndexSchema is the Arrow schema of exported index ranges.
var IndexSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: boundNames[0], Type: arrow.PrimitiveTypes.Int64},
	{Name: boundNames[1], Type: arrow.PrimitiveTypes.Int64},
	{Name: boundNames[2], Type: arrow.PrimitiveTypes.Int64},
	{Name: boundNames[3], Type: arrow.PrimitiveTypes.Int64},
	{Name: boundNames[4], Type: arrow.PrimitiveTypes.Int64},
	{Name: boundNames[5], Type: arrow.PrimitiveTypes.Int64},
}, nil)

// IndexRecord builds an Arrow record with one row per ROI in the given order.
// The caller must Release the returned record.
func IndexRecord(mem memory.Allocator, ranges map[string]IndexRange, order []string) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewRecordBuilder(mem, IndexSchema)
	defer b.Release()

	names := b.Field(0).(*array.StringBuilder)
	for _, name := range order {
		ir, found := ranges[name]
		if !found {
			return nil, fmt.Errorf("no index range for ROI %q", name)
		}
		names.Append(name)
		for i := 0; i < 6; i++ {
			b.Field(i + 1).(*array.Int64Builder).Append(int64(ir[i]))
		}
	}
	return b.NewRecord(), nil
}

// WriteArrowIPC writes the index ranges as an Arrow IPC stream.
func WriteArrowIPC(w io.Writer, ranges map[string]IndexRange, order []string) error {
	rec, err := IndexRecord(nil, ranges, order)
	if err != nil {
		return err
	}
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(IndexSchema))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}
