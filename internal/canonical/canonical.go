// Package canonical provides deterministic serialization and digesting for
// evidence payloads. Two logically identical values always serialize to the
// same bytes, so their digests can be compared across devices and over time.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// TimeFormat is the textual representation used for every timestamp that
// participates in hashing. Second precision, always UTC, so that devices
// with differing clock resolutions produce identical bytes.
const TimeFormat = time.RFC3339

// CoordinatePrecision is the number of decimal places used when formatting
// latitude/longitude values for hashing. Seven decimal places is ~1cm of
// precision, beyond any GPS receiver in the field.
const CoordinatePrecision = 7

// Marshal serializes v into canonical JSON bytes: object keys are sorted
// lexicographically at every nesting level, array order is preserved, and
// numbers are re-emitted from their source text so no float re-parsing can
// drift between platforms.
//
// v must be JSON-marshalable; the output is valid JSON.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	// Decode into a generic tree with json.Number so numeric literals pass
	// through verbatim instead of round-tripping through float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCanonical recursively writes the canonical JSON encoding of v.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical: encode string: %w", err)
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("canonical: encode key: %w", err)
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
	return nil
}

// FormatTime renders t in the canonical hashed representation (RFC 3339,
// UTC, second precision).
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// FormatCoordinate renders a latitude or longitude with a fixed number of
// decimal places so the same fix always hashes identically regardless of the
// capturing platform's float formatting.
func FormatCoordinate(deg float64) string {
	return strconv.FormatFloat(deg, 'f', CoordinatePrecision, 64)
}
