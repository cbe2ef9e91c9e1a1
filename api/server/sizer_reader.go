package server

import (
	"bytes"
	"io"

	"github.com/tidepool-labs/tidepool/blob"
)

var _ interface{ Size() int64 } = (*sizerReadCloser)(nil)

type sizerReadCloser struct {
	io.ReadCloser
	size int64
}

func (s sizerReadCloser) Size() int64 {
	return s.size
}

// readBody reads r fully. blob.ErrBlobTooLarge is returned if r holds more than max bytes.
func readBody(r io.Reader, max uint64) ([]byte, error) {
	var buf bytes.Buffer
	if sizer, ok := r.(interface{ Size() int64 }); ok && sizer.Size() > 0 && uint64(sizer.Size()) <= max {
		buf.Grow(int(sizer.Size()))
	}
	n, err := buf.ReadFrom(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if uint64(n) > max {
		return nil, blob.ErrBlobTooLarge
	}
	return buf.Bytes(), nil
}
