package sqlast

import "encoding/json"

// JSONToSQLValue converts a value from the caller's JSON value space into
// the database driver's value space per spec §4.2: JSON null -> nil
// (SQL NULL), bool -> 0/1, numbers and strings pass through, and
// arrays/objects are serialized back to JSON text so they can ride in a
// TEXT column.
func JSONToSQLValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case string:
		return t, nil
	case []interface{}, map[string]interface{}:
		enc, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(enc), nil
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(enc), nil
	}
}

// SQLValueToJSON converts a value scanned out of the database back into a
// plain Go value suitable for json.Marshal (used by the executor's SELECT
// result-row materialization).
func SQLValueToJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}
