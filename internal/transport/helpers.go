package transport

import (
	"bytes"
	"fmt"
	"io"
)

func errStatus(code int) error {
	return fmt.Errorf("unexpected status code %d", code)
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
