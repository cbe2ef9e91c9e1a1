package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	chunk "github.com/ipfs/boxo/chunker"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/klauspost/reedsolomon"
	"github.com/multiformats/go-multihash"
)

type (
	// Encoded is the content-derived metadata and erasure-coded slivers of a blob.
	Encoded struct {
		// ID is derived from Root and identifies the blob on the network.
		ID ID
		// Root is the commitment over the CIDs of all chunks, in order.
		Root cid.Cid
		// Size is the unencoded length of the blob in bytes.
		Size int64
		// Chunks are the fixed-size blocks the commitment is computed over.
		Chunks []blocks.Block
		// Slivers hold DataShards data slivers followed by ParityShards parity slivers.
		Slivers      [][]byte
		DataShards   int
		ParityShards int
	}
)

// Encode computes the commitment and slivers of data.
// Any failure is returned as an EncodingError.
func Encode(data []byte, o ...EncodeOption) (*Encoded, error) {
	cfg := getEncodeOpts(o)
	if len(data) == 0 {
		return nil, &EncodingError{Err: errors.New("no content to encode")}
	}
	if cfg.dataShards <= 0 || cfg.parityShards < 0 {
		return nil, &EncodingError{Err: fmt.Errorf("invalid shard configuration: %d data, %d parity", cfg.dataShards, cfg.parityShards)}
	}

	splitter := chunk.NewSizeSplitter(bytes.NewReader(data), cfg.chunkSize)
	var chunks []blocks.Block
	var commitment bytes.Buffer
SplitLoop:
	for {
		b, err := splitter.NextBytes()
		switch err {
		case io.EOF:
			break SplitLoop
		case nil:
			mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
			if err != nil {
				return nil, &EncodingError{Err: err}
			}
			blk, err := blocks.NewBlockWithCid(b, cid.NewCidV1(cid.Raw, mh))
			if err != nil {
				return nil, &EncodingError{Err: err}
			}
			chunks = append(chunks, blk)
			commitment.Write(blk.Cid().Bytes())
		default:
			return nil, &EncodingError{Err: err}
		}
	}
	rootHash, err := multihash.Sum(commitment.Bytes(), multihash.SHA2_256, -1)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	root := cid.NewCidV1(cid.Raw, rootHash)

	enc, err := reedsolomon.New(cfg.dataShards, cfg.parityShards)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	// Split may reuse spare capacity of its input; hand it a private copy.
	slivers, err := enc.Split(append([]byte(nil), data...))
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	if err := enc.Encode(slivers); err != nil {
		return nil, &EncodingError{Err: err}
	}

	logger.Debugw("Encoded blob", "id", root.String(), "size", len(data), "chunks", len(chunks), "slivers", len(slivers))
	return &Encoded{
		ID:           ID(root.String()),
		Root:         root,
		Size:         int64(len(data)),
		Chunks:       chunks,
		Slivers:      slivers,
		DataShards:   cfg.dataShards,
		ParityShards: cfg.parityShards,
	}, nil
}

// Reconstruct rebuilds the original content of a blob of the given size from its slivers.
// Missing slivers must be nil; up to parityShards of them may be missing.
func Reconstruct(slivers [][]byte, size int64, dataShards, parityShards int) ([]byte, error) {
	if len(slivers) != dataShards+parityShards {
		return nil, fmt.Errorf("expected %d slivers, got %d", dataShards+parityShards, len(slivers))
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	if err := enc.Reconstruct(slivers); err != nil {
		return nil, fmt.Errorf("failed to reconstruct slivers: %w", err)
	}
	var out bytes.Buffer
	out.Grow(int(size))
	if err := enc.Join(&out, slivers, int(size)); err != nil {
		return nil, fmt.Errorf("failed to join slivers: %w", err)
	}
	return out.Bytes(), nil
}

// Verify recomputes the commitment of data and reports whether it matches id.
func Verify(id ID, data []byte, o ...EncodeOption) (bool, error) {
	encoded, err := Encode(data, o...)
	if err != nil {
		return false, err
	}
	return encoded.ID == id, nil
}
