// Package crustjson is the single JSON entry point for the gateway.
package crustjson

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

// RawMessage is a raw encoded JSON value.
type RawMessage = jsoniter.RawMessage

var (
	standard = jsoniter.ConfigCompatibleWithStandardLibrary

	// Numbers decoded into interfaces keep their literal text so large
	// snowflakes survive re-encoding.
	numbers = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		UseNumber:              true,
	}.Froze()
)

func Unmarshal(data []byte, v any) error {
	return standard.Unmarshal(data, v)
}

func UnmarshalReader(reader io.Reader, v any) error {
	return standard.NewDecoder(reader).Decode(v)
}

// UnmarshalGeneric decodes into a generic tree, keeping numbers as json.Number.
func UnmarshalGeneric(data []byte) (v any, err error) {
	err = numbers.Unmarshal(data, &v)

	return v, err
}

func Marshal(v any) ([]byte, error) {
	return standard.Marshal(v)
}

func MarshalToWriter(writer io.Writer, v any) error {
	return standard.NewEncoder(writer).Encode(v)
}
