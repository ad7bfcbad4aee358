package record

import (
	"encoding/binary"
	"fmt"

	"github.com/EdgeKing810/kinesis-db/value"
)

const (
	tagNull = iota
	tagBool
	tagInt
	tagFloat
	tagString
)

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Encode serializes a record's schema version and field map into the
// payload written onto a page (or into an overflow chain, if it doesn't
// fit in one page), using a tag-prefixed variable-length encoding keyed
// by field name rather than column position, since schemas evolve
// field-by-field across versions.
func Encode(r Record) []byte {
	buf := putUvarint(nil, uint64(len(r.ID)))
	buf = append(buf, r.ID...)
	buf = putUvarint(buf, uint64(r.SchemaVersion))
	buf = putUvarint(buf, uint64(len(r.Fields)))

	for name, v := range r.Fields {
		buf = putUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
		if v == nil {
			buf = append(buf, tagNull)
			continue
		}
		switch v := v.(type) {
		case value.BoolValue:
			buf = append(buf, tagBool)
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case value.IntValue:
			buf = append(buf, tagInt)
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], uint64(v))
			buf = append(buf, tmp[:]...)
		case value.FloatValue:
			buf = append(buf, tagFloat)
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], uint64(value.Float64bits(v)))
			buf = append(buf, tmp[:]...)
		case value.StringValue:
			buf = append(buf, tagString)
			buf = putUvarint(buf, uint64(len(v)))
			buf = append(buf, v...)
		default:
			panic(fmt.Sprintf("record: unexpected value type %T", v))
		}
	}
	return buf
}

// Decode reverses Encode.
func Decode(buf []byte) (Record, error) {
	r := Record{Fields: map[string]value.Value{}}
	off := 0

	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return 0, fmt.Errorf("record: bad varint")
		}
		off += n
		return v, nil
	}

	idLen, err := readUvarint()
	if err != nil {
		return r, err
	}
	r.ID = string(buf[off : off+int(idLen)])
	off += int(idLen)

	ver, err := readUvarint()
	if err != nil {
		return r, err
	}
	r.SchemaVersion = uint32(ver)

	n, err := readUvarint()
	if err != nil {
		return r, err
	}

	for i := uint64(0); i < n; i++ {
		nameLen, err := readUvarint()
		if err != nil {
			return r, err
		}
		name := string(buf[off : off+int(nameLen)])
		off += int(nameLen)

		tag := buf[off]
		off++

		switch tag {
		case tagNull:
			r.Fields[name] = nil
		case tagBool:
			r.Fields[name] = value.BoolValue(buf[off] != 0)
			off++
		case tagInt:
			r.Fields[name] = value.IntValue(binary.BigEndian.Uint64(buf[off : off+8]))
			off += 8
		case tagFloat:
			bits := binary.BigEndian.Uint64(buf[off : off+8])
			r.Fields[name] = value.Float64frombits(bits)
			off += 8
		case tagString:
			sl, err := readUvarint()
			if err != nil {
				return r, err
			}
			r.Fields[name] = value.StringValue(buf[off : off+int(sl)])
			off += int(sl)
		default:
			return r, fmt.Errorf("record: unknown value tag %d", tag)
		}
	}
	return r, nil
}
