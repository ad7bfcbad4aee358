package record_test

import (
	"reflect"
	"testing"

	"github.com/EdgeKing810/kinesis-db/record"
	"github.com/EdgeKing810/kinesis-db/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []record.Record{
		{ID: "1", SchemaVersion: 1, Fields: map[string]value.Value{
			"name": value.StringValue("Alice"),
			"age":  value.IntValue(25),
		}},
		{ID: "2", SchemaVersion: 2, Fields: map[string]value.Value{
			"active": value.BoolValue(true),
			"score":  value.FloatValue(98.6),
		}},
		{ID: "3", SchemaVersion: 1, Fields: map[string]value.Value{}},
		{ID: "", SchemaVersion: 1, Fields: map[string]value.Value{
			"nullable": nil,
		}},
	}

	for _, rec := range cases {
		buf := record.Encode(rec)
		got, err := record.Decode(buf)
		if err != nil {
			t.Fatalf("Decode(Encode(%v)): %s", rec, err)
		}
		if got.ID != rec.ID || got.SchemaVersion != rec.SchemaVersion {
			t.Errorf("Decode(Encode(%v)) = %v", rec, got)
		}
		if !reflect.DeepEqual(got.Fields, rec.Fields) {
			t.Errorf("Decode(Encode(%v)).Fields = %v, want %v", rec, got.Fields, rec.Fields)
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := record.Decode([]byte{0xff}); err == nil {
		t.Error("Decode of a truncated buffer should error")
	}
}
