package catalog_test

import (
	"regexp"
	"testing"

	"github.com/EdgeKing810/kinesis-db/catalog"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/value"
)

func ageSchema() *catalog.Schema {
	min, max := 0.0, 150.0
	return &catalog.Schema{
		Version: 1,
		Fields: []catalog.Field{
			{Name: "name", Type: value.String, Required: true},
			{Name: "age", Type: value.Integer, Min: &min, Max: &max},
		},
	}
}

func TestValidateOK(t *testing.T) {
	out, err := catalog.Validate(ageSchema(), map[string]value.Value{
		"name": value.StringValue("Alice"),
		"age":  value.IntValue(25),
	})
	if err != nil {
		t.Fatalf("Validate: %s", err)
	}
	if out["name"] != value.StringValue("Alice") || out["age"] != value.IntValue(25) {
		t.Errorf("Validate() = %v", out)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	_, err := catalog.Validate(ageSchema(), map[string]value.Value{
		"age": value.IntValue(25),
	})
	if _, ok := err.(*kerrors.SchemaViolation); !ok {
		t.Fatalf("Validate with missing required field: got %v, want SchemaViolation", err)
	}
}

func TestValidateDefaultFill(t *testing.T) {
	s := &catalog.Schema{
		Version: 2,
		Fields: []catalog.Field{
			{Name: "name", Type: value.String, Required: true},
			{Name: "active", Type: value.Boolean, Default: value.BoolValue(true)},
		},
	}
	out, err := catalog.Validate(s, map[string]value.Value{"name": value.StringValue("Bob")})
	if err != nil {
		t.Fatalf("Validate: %s", err)
	}
	if out["active"] != value.BoolValue(true) {
		t.Errorf("active = %v, want default true", out["active"])
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	_, err := catalog.Validate(ageSchema(), map[string]value.Value{
		"name": value.StringValue("Alice"),
		"age":  value.StringValue("twenty-five"),
	})
	if _, ok := err.(*kerrors.TypeMismatch); !ok {
		t.Fatalf("Validate with wrong type: got %v, want TypeMismatch", err)
	}
}

func TestValidateRange(t *testing.T) {
	cases := []value.Value{value.IntValue(-1), value.IntValue(200)}
	for _, age := range cases {
		_, err := catalog.Validate(ageSchema(), map[string]value.Value{
			"name": value.StringValue("Alice"),
			"age":  age,
		})
		if _, ok := err.(*kerrors.ConstraintViolation); !ok {
			t.Errorf("Validate(age=%v): got %v, want ConstraintViolation", age, err)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	s := &catalog.Schema{
		Version: 1,
		Fields: []catalog.Field{
			{Name: "email", Type: value.String, Pattern: regexp.MustCompile(`^[^@]+@[^@]+$`)},
		},
	}
	if _, err := catalog.Validate(s, map[string]value.Value{"email": value.StringValue("not-an-email")}); err == nil {
		t.Fatal("Validate should reject a string failing the pattern")
	}
	if _, ok := mustErr(t, s, "bad"); !ok {
		t.Fatal("expected PatternMismatch")
	}
	if _, err := catalog.Validate(s, map[string]value.Value{"email": value.StringValue("a@b")}); err != nil {
		t.Errorf("Validate should accept a matching email: %s", err)
	}
}

func mustErr(t *testing.T, s *catalog.Schema, email string) (*kerrors.PatternMismatch, bool) {
	t.Helper()
	_, err := catalog.Validate(s, map[string]value.Value{"email": value.StringValue(email)})
	pm, ok := err.(*kerrors.PatternMismatch)
	return pm, ok
}
