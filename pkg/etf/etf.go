// Package etf reads and writes the subset of the Erlang External Term Format
// spoken by the gateway when the etf encoding is negotiated.
//
// Values are exchanged as generic trees: nil, bool, string, int64, float64,
// json.Number, []any and map[string]any. Big integers are decoded as decimal
// strings, the same representation the JSON encoding uses for snowflakes.
package etf

import "errors"

const (
	tagVersion = 131

	tagNewFloat      = 70
	tagSmallInteger  = 97
	tagInteger       = 98
	tagFloat         = 99
	tagAtom          = 100
	tagSmallTuple    = 104
	tagLargeTuple    = 105
	tagNil           = 106
	tagString        = 107
	tagList          = 108
	tagBinary        = 109
	tagSmallBig      = 110
	tagLargeBig      = 111
	tagSmallAtom     = 115
	tagMap           = 116
	tagAtomUTF8      = 118
	tagSmallAtomUTF8 = 119
)

// MaxDepth bounds nesting when decoding untrusted input.
const MaxDepth = 256

var (
	ErrBadVersion     = errors.New("etf: missing version header")
	ErrTruncated      = errors.New("etf: truncated term")
	ErrUnknownTag     = errors.New("etf: unknown term tag")
	ErrUnsupported    = errors.New("etf: unsupported value type")
	ErrTooDeep        = errors.New("etf: term nested too deeply")
	ErrTrailingBytes  = errors.New("etf: trailing bytes after term")
	ErrNumberOverflow = errors.New("etf: number does not fit")
)
