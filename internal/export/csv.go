package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// RenderCSV writes the header row followed by every row.
func RenderCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if headers := t.Headers(); len(headers) > 0 {
		if err := cw.Write(headers); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, field := range row {
			record[i] = FormatValue(field.Value)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
