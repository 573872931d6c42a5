package market

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV serialises the batch with a header row. Missing values are empty cells.
func WriteCSV(w io.Writer, batch Batch) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(batch.Columns); err != nil {
		return err
	}

	row := make([]string, len(batch.Columns))
	for _, rec := range batch.Records {
		for i, col := range batch.Columns {
			row[i] = FormatValue(rec.Get(col))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// FormatValue renders a cell value as text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case json.Number:
		return val.String()
	case []byte:
		return string(val)
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	default:
		return fmt.Sprint(val)
	}
}
