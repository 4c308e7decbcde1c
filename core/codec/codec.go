// Package codec implements the per-scalar-type conversion between the
// stored column representation and the in-memory attribute representation.
// Codecs are pure; nil decodes to nil unconditionally, before any codec
// runs. Dispatch is a fixed table over the closed attribute-type enum.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-nakala/core/errs"
	"github.com/asaidimu/go-nakala/core/schema"
)

// MaxSafeInteger is the largest integer exactly representable in an IEEE
// double, 2^53 - 1. Internal id columns refuse values beyond it.
const MaxSafeInteger = int64(1)<<53 - 1

// Codec converts one scalar attribute between its stored and in-memory
// representations. Implementations are stateless and safe for concurrent
// use.
type Codec interface {
	// Decode converts a stored value into its in-memory representation.
	Decode(stored any) (any, error)
	// Encode converts an in-memory value into its stored representation.
	Encode(value any) (any, error)
}

// ForAttribute selects the codec for a scalar attribute. Internal integer
// identity columns (primary keys and marked foreign keys) take the
// overflow-checked id codec regardless of their declared scalar type;
// user-declared biginteger attributes take the string-preserving codec.
// Relation-typed values pass through unchanged and never reach a codec.
func ForAttribute(name string, attr *schema.Attribute) Codec {
	if attr.Column != nil && attr.Column.ID {
		return idCodec{column: name}
	}
	return forType(attr.Type)
}

// ForColumn selects the codec for a raw column with no attribute metadata,
// used for engine-managed columns. Identity columns are overflow-checked.
func ForColumn(column string, isID bool) Codec {
	if isID {
		return idCodec{column: column}
	}
	return passthroughCodec{}
}

var typeCodecs = map[schema.AttributeType]Codec{
	schema.TypeString:      stringCodec{},
	schema.TypeText:        stringCodec{},
	schema.TypeRichText:    stringCodec{},
	schema.TypeEmail:       stringCodec{},
	schema.TypePassword:    stringCodec{},
	schema.TypeEnumeration: stringCodec{},
	schema.TypeUID:         stringCodec{},
	schema.TypeInteger:     integerCodec{},
	schema.TypeBigInteger:  bigIntegerCodec{},
	schema.TypeFloat:       floatCodec{},
	schema.TypeDecimal:     floatCodec{},
	schema.TypeBoolean:     booleanCodec{},
	schema.TypeJSON:        jsonCodec{},
	schema.TypeDate:        stringCodec{},
	schema.TypeTime:        stringCodec{},
	schema.TypeDatetime:    datetimeCodec{},
	schema.TypeTimestamp:   datetimeCodec{},
}

func forType(t schema.AttributeType) Codec {
	if c, ok := typeCodecs[t]; ok {
		return c
	}
	return passthroughCodec{}
}

type passthroughCodec struct{}

func (passthroughCodec) Decode(stored any) (any, error) { return stored, nil }
func (passthroughCodec) Encode(value any) (any, error)  { return value, nil }

type stringCodec struct{}

func (stringCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (stringCodec) Encode(value any) (any, error) {
	return value, nil
}

type integerCodec struct{}

func (integerCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return nil, fmt.Errorf("cannot decode %T as integer", stored)
	}
}

func (integerCodec) Encode(value any) (any, error) {
	return value, nil
}

// idCodec decodes internal integer identity columns. Values past the safe
// integer range fail with OverflowError: truncating them would corrupt id
// equality and joins.
type idCodec struct {
	column string
}

func (c idCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	var n int64
	switch v := stored.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		if v > float64(MaxSafeInteger) || v < -float64(MaxSafeInteger) {
			return nil, &errs.OverflowError{Column: c.column, Value: strconv.FormatFloat(v, 'f', -1, 64)}
		}
		n = int64(v)
	case []byte:
		return c.Decode(string(v))
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			// A decimal string that does not fit int64 is a fortiori
			// beyond the safe range.
			if strings.Contains(err.Error(), "out of range") {
				return nil, &errs.OverflowError{Column: c.column, Value: v}
			}
			return nil, fmt.Errorf("cannot decode %q as id: %w", v, err)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("cannot decode %T as id", stored)
	}
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return nil, &errs.OverflowError{Column: c.column, Value: strconv.FormatInt(n, 10)}
	}
	return n, nil
}

func (c idCodec) Encode(value any) (any, error) {
	return value, nil
}

// bigIntegerCodec handles user-declared biginteger attributes. The decoded
// form is always a string, even within the safe range, so arbitrarily
// large user data never loses precision.
type bigIntegerCodec struct{}

func (bigIntegerCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (bigIntegerCodec) Encode(value any) (any, error) {
	return value, nil
}

type floatCodec struct{}

func (floatCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return nil, fmt.Errorf("cannot decode %T as float", stored)
	}
}

func (floatCodec) Encode(value any) (any, error) {
	return value, nil
}

type booleanCodec struct{}

func (booleanCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot decode %T as boolean", stored)
	}
}

func (booleanCodec) Encode(value any) (any, error) {
	if b, ok := value.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return value, nil
}

type jsonCodec struct{}

func (jsonCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	var raw []byte
	switch v := stored.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return stored, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return decoded, nil
}

func (jsonCodec) Encode(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch value.(type) {
	case string, []byte:
		return value, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(raw), nil
}

type datetimeCodec struct{}

func (datetimeCodec) Decode(stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return parseTime(string(v))
	case string:
		return parseTime(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot decode %T as datetime", stored)
	}
}

func (datetimeCodec) Encode(value any) (any, error) {
	if t, ok := value.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	return value, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (any, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as datetime", s)
}
