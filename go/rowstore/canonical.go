package rowstore

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// CanonicalJSON serializes a row payload into its canonical form: object
// keys in lexicographic (byte) order, no insignificant whitespace, strings
// as UTF-8, and numbers in their shortest round-trippable form. Two payloads
// are the same row iff their canonical bytes are equal.
func CanonicalJSON(data types.RowData) ([]byte, error) {
	var b bytes.Buffer
	if err := writeCanonical(&b, map[string]interface{}(data)); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// HashRow returns the hex-encoded SHA-256 of the canonical serialization of
// data.
func HashRow(data types.RowData) (types.RowHash, error) {
	c, err := CanonicalJSON(data)
	if err != nil {
		return types.BadRowHash, err
	}
	return hashBytes(c), nil
}

func writeCanonical(b *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return sherr.Wrap(err)
		}
		b.Write(enc)
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float32:
		return writeCanonical(b, float64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return sherr.New(sherr.Validation, "non-finite number %v cannot be canonicalized", t)
		}
		// Integral floats render without an exponent or decimal point so
		// that a value read back from JSONB hashes identically.
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			b.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		}
	case json.Number:
		b.WriteString(t.String())
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return sherr.Wrap(err)
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case types.RowData:
		return writeCanonical(b, map[string]interface{}(t))
	case []interface{}:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return sherr.New(sherr.Validation, "value of type %T cannot be canonicalized", v)
	}
	return nil
}
