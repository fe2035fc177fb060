//go:build !crust_nozlib

package crust

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
)

// zlibWindow is the largest distance a deflate back reference may reach.
const zlibWindow = 32 << 10

var (
	zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

	errZlibHeader = errors.New("invalid zlib header")
)

func init() {
	newStreamInflater = func() inflater { return &zlibStream{} }
}

// zlibStream inflates a zlib-stream connection. Every message ends with a
// sync flush, so each one is decoded on its own with the tail of the
// previous output as the dictionary.
type zlibStream struct {
	pending []byte
	window  []byte
	started bool
	reader  io.ReadCloser
	out     bytes.Buffer
}

func (z *zlibStream) inflate(frame []byte) ([]byte, error) {
	z.pending = append(z.pending, frame...)

	if !bytes.HasSuffix(z.pending, zlibSuffix) {
		return nil, nil
	}

	message := z.pending
	z.pending = nil

	if !z.started {
		if len(message) < 2 || message[0]&0x0f != 8 || (uint16(message[0])<<8|uint16(message[1]))%31 != 0 {
			return nil, errZlibHeader
		}

		message = message[2:]
		z.started = true
	}

	if z.reader == nil {
		z.reader = flate.NewReaderDict(bytes.NewReader(message), z.window)
	} else if err := z.reader.(flate.Resetter).Reset(bytes.NewReader(message), z.window); err != nil {
		return nil, err
	}

	z.out.Reset()

	// Without a final block the reader always ends on an unexpected EOF.
	_, err := z.out.ReadFrom(z.reader)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	inflated := append([]byte(nil), z.out.Bytes()...)

	z.window = append(z.window, inflated...)
	if len(z.window) > zlibWindow {
		z.window = append([]byte(nil), z.window[len(z.window)-zlibWindow:]...)
	}

	return inflated, nil
}
