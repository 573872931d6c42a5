package market

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one row of a batch keyed by column name. A nil or absent value is missing.
type Record map[string]any

// Get returns the value stored under column, or nil when it is missing.
func (r Record) Get(column string) any {
	if r == nil {
		return nil
	}
	return r[column]
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered set of records sharing a named column set.
type Batch struct {
	Columns []string
	Records []Record
}

// Len reports the number of records.
func (b Batch) Len() int {
	return len(b.Records)
}

// Empty reports whether the batch has no records.
func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// HasColumn reports whether column is part of the batch schema.
func (b Batch) HasColumn(column string) bool {
	for _, c := range b.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Head returns a batch holding at most n leading records.
func (b Batch) Head(n int) Batch {
	if n < 0 || n >= len(b.Records) {
		return b
	}
	return Batch{Columns: b.Columns, Records: b.Records[:n]}
}

// Column returns the values of column across all records.
func (b Batch) Column(column string) []any {
	values := make([]any, len(b.Records))
	for i, rec := range b.Records {
		values[i] = rec.Get(column)
	}
	return values
}

// DecodeJSON parses a JSON array of objects. Columns are the keys of the first element
// that is a JSON object, in document order. Elements that are not objects are skipped.
func DecodeJSON(payload []byte) (Batch, error) {
	var items []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&items); err != nil {
		return Batch{}, fmt.Errorf("decode market payload: %w", err)
	}

	batch := Batch{Records: make([]Record, 0, len(items))}
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			continue
		}
		if batch.Columns == nil {
			keys, err := objectKeys(item)
			if err != nil {
				continue
			}
			batch.Columns = keys
		}
		batch.Records = append(batch.Records, rec)
	}
	if batch.Columns == nil {
		batch.Columns = []string{}
	}
	return batch, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("null record")
	}
	return Record(rec), nil
}

func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("not a json object")
	}

	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("unexpected object key")
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
