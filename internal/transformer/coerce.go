package transformer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coercion target types.
const (
	TypeText   = "text"
	TypeBigInt = "bigint"
	TypeFloat  = "float"
)

// ErrNull is returned by the scalar converters for nil input, and by the
// numeric converters for an empty string.
var ErrNull = errors.New("transformer: null value")

// CoerceSpec maps column names to target types. Columns without an entry pass
// through unchanged.
type CoerceSpec struct {
	Types map[string]string
	// Required columns reject the row when they coerce to NULL.
	Required []string
}

type colPlan struct {
	name     string
	required bool
	coerce   func(dst *any, v any) bool
}

type plan struct {
	cols []colPlan
}

func compilePlan(columns []string, spec CoerceSpec) plan {
	req := make(map[string]bool, len(spec.Required))
	for _, c := range spec.Required {
		req[c] = true
	}

	p := plan{cols: make([]colPlan, len(columns))}
	for i, name := range columns {
		cp := colPlan{name: name, required: req[name]}
		switch strings.ToLower(spec.Types[name]) {
		case TypeBigInt:
			cp.coerce = coerceWith(ToInt64)
		case TypeFloat:
			cp.coerce = coerceWith(ToFloat64)
		case TypeText:
			cp.coerce = coerceWith(ToString)
		default:
			cp.coerce = func(dst *any, v any) bool { *dst = v; return true }
		}
		p.cols[i] = cp
	}
	return p
}

// coerceWith adapts a scalar converter. NULL input yields a nil value.
func coerceWith[T any](conv func(any) (T, error)) func(dst *any, v any) bool {
	return func(dst *any, v any) bool {
		out, err := conv(v)
		if errors.Is(err, ErrNull) {
			*dst = nil
			return true
		}
		if err != nil {
			return false
		}
		*dst = out
		return true
	}
}

// apply coerces r.V in place. It returns a reason when the row must be rejected.
func (p plan) apply(r *Row) (string, bool) {
	for i := range p.cols {
		cp := &p.cols[i]
		raw := r.V[i]
		if !cp.coerce(&r.V[i], raw) {
			return fmt.Sprintf("coerce: column %q: cannot convert %v", cp.name, raw), false
		}
		if cp.required && r.V[i] == nil {
			return fmt.Sprintf("coerce: column %q is required", cp.name), false
		}
	}
	return "", true
}

// CoerceLoopRows reads rows from in, converts their values per spec, and
// forwards them to out. Rejected rows are reported through onReject and freed.
//
// The loop returns when in is closed. It does not close out.
func CoerceLoopRows(
	ctx context.Context,
	columns []string,
	in <-chan *Row,
	out chan<- *Row,
	spec CoerceSpec,
	onReject func(line int, reason string),
) {
	p := compilePlan(columns, spec)

	for r := range in {
		// On cancellation: drain without re-pooling (prevents reuse races).
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}

		if r == nil {
			continue
		}
		if len(r.V) != len(columns) {
			if onReject != nil {
				onReject(r.Line, fmt.Sprintf("coerce: row has %d values, want %d", len(r.V), len(columns)))
			}
			r.Free()
			continue
		}
		if reason, ok := p.apply(r); !ok {
			if onReject != nil {
				onReject(r.Line, reason)
			}
			r.Free()
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

type int64er interface{ Int64() (int64, error) }
type float64er interface{ Float64() (float64, error) }

// ToInt64 converts decoded JSON or driver values to int64.
// Fractional floats are rejected.
func ToInt64(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, ErrNull
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		return int64(x), nil
	case int64er:
		return x.Int64()
	case []byte:
		return ToInt64(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, ErrNull
		}
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ToFloat64 converts decoded JSON or driver values to float64.
func ToFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, ErrNull
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case float64er:
		return x.Float64()
	case []byte:
		return ToFloat64(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, ErrNull
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ToString converts decoded JSON or driver values to string. Text is kept
// byte-exact, including the empty string.
func ToString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", ErrNull
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}
