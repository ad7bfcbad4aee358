package catalog

import (
	"fmt"

	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/value"
)

// Validate checks row against s: required fields present, type
// compatibility, numeric range, and string pattern. It does NOT check
// uniqueness: that requires a scan of committed records under lock,
// which only the record layer (with a table and a txn) can do. Missing
// non-required fields are filled from their declared default.
func Validate(s *Schema, row map[string]value.Value) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(s.Fields))

	for _, f := range s.Fields {
		v, present := row[f.Name]
		if !present || v == nil {
			if f.Required && f.Default == nil {
				return nil, &kerrors.SchemaViolation{Field: f.Name, Reason: "required field is missing"}
			}
			if f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}

		cv, err := convert(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = cv
	}
	return out, nil
}

func convert(f Field, v value.Value) (value.Value, error) {
	if v.Type() != f.Type {
		return nil, &kerrors.TypeMismatch{
			Field:    f.Name,
			Expected: f.Type.String(),
			Got:      v.Type().String(),
		}
	}

	switch f.Type {
	case value.Integer:
		iv := v.(value.IntValue)
		if f.Min != nil && float64(iv) < *f.Min {
			return nil, &kerrors.ConstraintViolation{Field: f.Name, Kind: "min"}
		}
		if f.Max != nil && float64(iv) > *f.Max {
			return nil, &kerrors.ConstraintViolation{Field: f.Name, Kind: "max"}
		}
	case value.Float:
		fv := v.(value.FloatValue)
		if f.Min != nil && float64(fv) < *f.Min {
			return nil, &kerrors.ConstraintViolation{Field: f.Name, Kind: "min"}
		}
		if f.Max != nil && float64(fv) > *f.Max {
			return nil, &kerrors.ConstraintViolation{Field: f.Name, Kind: "max"}
		}
	case value.String:
		sv := v.(value.StringValue)
		if f.Pattern != nil && !f.Pattern.MatchString(string(sv)) {
			return nil, &kerrors.PatternMismatch{Field: f.Name}
		}
	case value.Boolean:
		// {true, false} is the whole domain; the type check above sufficed.
	default:
		return nil, fmt.Errorf("catalog: field %q: unknown type %v", f.Name, f.Type)
	}
	return v, nil
}
