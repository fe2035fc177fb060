package etf

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Unmarshal decodes a single term into a generic value tree.
func Unmarshal(data []byte) (any, error) {
	if len(data) == 0 || data[0] != tagVersion {
		return nil, ErrBadVersion
	}

	d := decoder{data: data, pos: 1}

	v, err := d.term(0)
	if err != nil {
		return nil, err
	}

	if d.pos != len(d.data) {
		return nil, ErrTrailingBytes
	}

	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, ErrTruncated
	}

	out := d.data[d.pos : d.pos+n]
	d.pos += n

	return out, nil
}

func (d *decoder) uint8() (int, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}

	return int(b[0]), nil
}

func (d *decoder) uint16() (int, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint16(b)), nil
}

func (d *decoder) uint32() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint32(b)), nil
}

func (d *decoder) term(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	tag, err := d.uint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagSmallInteger:
		n, err := d.uint8()

		return int64(n), err
	case tagInteger:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}

		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case tagNewFloat:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}

		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case tagFloat:
		b, err := d.take(31)
		if err != nil {
			return nil, err
		}

		return strconv.ParseFloat(strings.TrimRight(string(b), "\x00"), 64)
	case tagAtom, tagAtomUTF8:
		n, err := d.uint16()
		if err != nil {
			return nil, err
		}

		return d.atom(n)
	case tagSmallAtom, tagSmallAtomUTF8:
		n, err := d.uint8()
		if err != nil {
			return nil, err
		}

		return d.atom(n)
	case tagSmallTuple:
		n, err := d.uint8()
		if err != nil {
			return nil, err
		}

		return d.items(n, depth)
	case tagLargeTuple:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		return d.items(n, depth)
	case tagNil:
		return []any{}, nil
	case tagString:
		n, err := d.uint16()
		if err != nil {
			return nil, err
		}

		b, err := d.take(n)

		return string(b), err
	case tagList:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		items, err := d.items(n, depth)
		if err != nil {
			return nil, err
		}

		tail, err := d.term(depth + 1)
		if err != nil {
			return nil, err
		}

		// Improper lists keep their tail as the final element.
		if rest, ok := tail.([]any); !ok || len(rest) != 0 {
			items = append(items, tail)
		}

		return items, nil
	case tagBinary:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		b, err := d.take(n)

		return string(b), err
	case tagSmallBig:
		n, err := d.uint8()
		if err != nil {
			return nil, err
		}

		return d.bigInt(n)
	case tagLargeBig:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		return d.bigInt(n)
	case tagMap:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		return d.mapping(n, depth)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func (d *decoder) atom(n int) (any, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}

	switch name := string(b); name {
	case "nil", "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return name, nil
	}
}

func (d *decoder) items(n int, depth int) ([]any, error) {
	if n > len(d.data)-d.pos {
		return nil, ErrTruncated
	}

	items := make([]any, 0, n)

	for i := 0; i < n; i++ {
		item, err := d.term(depth + 1)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}

func (d *decoder) mapping(n int, depth int) (map[string]any, error) {
	if n > len(d.data)-d.pos {
		return nil, ErrTruncated
	}

	out := make(map[string]any, n)

	for i := 0; i < n; i++ {
		key, err := d.term(depth + 1)
		if err != nil {
			return nil, err
		}

		value, err := d.term(depth + 1)
		if err != nil {
			return nil, err
		}

		switch k := key.(type) {
		case string:
			out[k] = value
		default:
			out[fmt.Sprint(k)] = value
		}
	}

	return out, nil
}

func (d *decoder) bigInt(n int) (any, error) {
	sign, err := d.uint8()
	if err != nil {
		return nil, err
	}

	digits, err := d.take(n)
	if err != nil {
		return nil, err
	}

	if n <= 8 {
		var u uint64

		for i := n - 1; i >= 0; i-- {
			u = u<<8 | uint64(digits[i])
		}

		if sign == 0 {
			return strconv.FormatUint(u, 10), nil
		}

		return "-" + strconv.FormatUint(u, 10), nil
	}

	bigEndian := make([]byte, n)
	for i, digit := range digits {
		bigEndian[n-1-i] = digit
	}

	value := new(big.Int).SetBytes(bigEndian)
	if sign != 0 {
		value.Neg(value)
	}

	return value.String(), nil
}
