package blob

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// quiltMagic prefixes every quilt so that plain blobs are never mistaken for one.
var quiltMagic = [4]byte{'T', 'P', 'Q', '1'}

// EncodeQuilt packs files into a single quilt container.
//
// Layout: magic, uint32 file count, then per file a uint16 identifier length, the identifier
// and a uint64 content length; the contents follow in the same order. All integers are big endian.
func EncodeQuilt(files []Payload) ([]byte, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Field: "quilt", Reason: "no files"}
	}
	var buf bytes.Buffer
	buf.Write(quiltMagic[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(files)))
	for _, f := range files {
		if len(f.Identifier) > math.MaxUint16 {
			return nil, &ValidationError{Field: "quilt", Reason: fmt.Sprintf("identifier of %d bytes is too long", len(f.Identifier))}
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(f.Identifier)))
		buf.WriteString(f.Identifier)
		_ = binary.Write(&buf, binary.BigEndian, uint64(len(f.Data)))
	}
	for _, f := range files {
		buf.Write(f.Data)
	}
	return buf.Bytes(), nil
}

// DecodeQuilt extracts the files of a quilt.
// ErrNotQuilt is returned if b does not start with a quilt header.
func DecodeQuilt(b []byte) ([]Payload, error) {
	if len(b) < len(quiltMagic)+4 || !bytes.Equal(b[:len(quiltMagic)], quiltMagic[:]) {
		return nil, ErrNotQuilt
	}
	r := bytes.NewReader(b[len(quiltMagic):])
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed quilt header: %w", err)
	}
	type entry struct {
		id   string
		size uint64
	}
	// Each entry header takes at least 10 bytes.
	if uint64(count)*10 > uint64(r.Len()) {
		return nil, fmt.Errorf("malformed quilt header: %d entries do not fit in %d bytes", count, r.Len())
	}
	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var idLen uint16
		if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
			return nil, fmt.Errorf("malformed quilt entry %d: %w", i, err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, fmt.Errorf("malformed quilt entry %d: %w", i, err)
		}
		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("malformed quilt entry %d: %w", i, err)
		}
		entries = append(entries, entry{id: string(id), size: size})
	}
	files := make([]Payload, 0, len(entries))
	for i, e := range entries {
		if uint64(r.Len()) < e.size {
			return nil, fmt.Errorf("malformed quilt entry %d: content truncated", i)
		}
		data := make([]byte, e.size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("malformed quilt entry %d: %w", i, err)
		}
		files = append(files, Payload{Identifier: e.id, Data: data})
	}
	return files, nil
}
