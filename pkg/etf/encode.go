package etf

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Marshal encodes a generic value tree.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tagVersion)

	if err := writeTerm(&buf, v, 0); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeTerm(buf *bytes.Buffer, v any, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}

	switch value := v.(type) {
	case nil:
		writeAtom(buf, "nil")
	case bool:
		writeAtom(buf, strconv.FormatBool(value))
	case string:
		writeBinary(buf, []byte(value))
	case []byte:
		writeBinary(buf, value)
	case int:
		writeInt(buf, int64(value))
	case int32:
		writeInt(buf, int64(value))
	case int64:
		writeInt(buf, value)
	case uint64:
		writeUint(buf, value, false)
	case float64:
		writeFloat(buf, value)
	case json.Number:
		return writeNumber(buf, value)
	case []any:
		if len(value) == 0 {
			buf.WriteByte(tagNil)

			return nil
		}

		buf.WriteByte(tagList)
		writeUint32(buf, uint32(len(value)))

		for _, item := range value {
			if err := writeTerm(buf, item, depth+1); err != nil {
				return err
			}
		}

		buf.WriteByte(tagNil)
	case map[string]any:
		buf.WriteByte(tagMap)
		writeUint32(buf, uint32(len(value)))

		// Sorted keys keep the output stable.
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			writeBinary(buf, []byte(key))

			if err := writeTerm(buf, value[key], depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, v)
	}

	return nil
}

func writeNumber(buf *bytes.Buffer, number json.Number) error {
	if i, err := number.Int64(); err == nil {
		writeInt(buf, i)

		return nil
	}

	if u, err := strconv.ParseUint(number.String(), 10, 64); err == nil {
		writeUint(buf, u, false)

		return nil
	}

	f, err := number.Float64()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNumberOverflow, number)
	}

	writeFloat(buf, f)

	return nil
}

func writeAtom(buf *bytes.Buffer, name string) {
	buf.WriteByte(tagSmallAtomUTF8)
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
}

func writeBinary(buf *bytes.Buffer, data []byte) {
	buf.WriteByte(tagBinary)
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func writeInt(buf *bytes.Buffer, i int64) {
	switch {
	case i >= 0 && i <= math.MaxUint8:
		buf.WriteByte(tagSmallInteger)
		buf.WriteByte(byte(i))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		buf.WriteByte(tagInteger)
		writeUint32(buf, uint32(int32(i)))
	case i < 0:
		writeUint(buf, uint64(-i), true)
	default:
		writeUint(buf, uint64(i), false)
	}
}

func writeUint(buf *bytes.Buffer, u uint64, negative bool) {
	digits := make([]byte, 0, 8)

	for u > 0 {
		digits = append(digits, byte(u))
		u >>= 8
	}

	buf.WriteByte(tagSmallBig)
	buf.WriteByte(byte(len(digits)))

	if negative {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	buf.Write(digits)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(tagNewFloat)

	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], math.Float64bits(f))
	buf.Write(raw[:])
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], n)
	buf.Write(raw[:])
}
