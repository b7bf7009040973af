// Package snapshot persists the registry: every index with its documents,
// spatial points, synonyms and rules, plus the alias bindings.
//
// A snapshot file is a fixed header, a zstd-compressed JSON body and a
// footer carrying the body checksum:
//
//	header (32 bytes): magic, version, created-at, body length, raw length
//	body:              zstd(JSON(Snapshot))
//	footer (16 bytes): crc32(body), index count, reserved
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	MagicBytes    uint32 = 0x46545353 // "FTSS"
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 16
)

// maxPrealloc caps the buffer sized from the unverified raw-size field.
const maxPrealloc = 64 << 20

var ErrCorrupt = errors.New("corrupt snapshot")

// Header is the fixed-size prefix of every encoded snapshot.
type Header struct {
	Magic     uint32
	Version   uint32
	CreatedAt int64
	BodySize  uint64
	RawSize   uint64
}

// Encode serialises snap. level is a zstd level (1 fastest, 19 smallest);
// values outside that range fall back to the default.
func Encode(snap *Snapshot, level int) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	opts := []zstd.EOption{}
	if level >= 1 && level <= 19 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	body := enc.EncodeAll(raw, nil)
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd encoder: %w", err)
	}

	out := make([]byte, HeaderSize, HeaderSize+len(body)+FooterSize)
	binary.LittleEndian.PutUint32(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(out[8:16], uint64(snap.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(body)))
	binary.LittleEndian.PutUint64(out[24:32], uint64(len(raw)))
	out = append(out, body...)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(snap.Indexes)))
	return append(out, footer...), nil
}

// ReadHeader parses and checks the header of an encoded snapshot.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than header and footer", ErrCorrupt, len(data))
	}
	h := Header{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		Version:   binary.LittleEndian.Uint32(data[4:8]),
		CreatedAt: int64(binary.LittleEndian.Uint64(data[8:16])),
		BodySize:  binary.LittleEndian.Uint64(data[16:24]),
		RawSize:   binary.LittleEndian.Uint64(data[24:32]),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.BodySize != uint64(len(data)-HeaderSize-FooterSize) {
		return h, fmt.Errorf("%w: body size %d does not match file size %d", ErrCorrupt, h.BodySize, len(data))
	}
	return h, nil
}

// Decode verifies and parses an encoded snapshot.
func Decode(data []byte) (*Snapshot, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize : HeaderSize+int(h.BodySize)]
	footer := data[HeaderSize+int(h.BodySize):]
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(body); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch (want %08x, got %08x)", ErrCorrupt, want, got)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	capHint := h.RawSize
	if capHint > maxPrealloc {
		capHint = maxPrealloc
	}
	raw, err := dec.DecodeAll(body, make([]byte, 0, capHint))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing body: %v", ErrCorrupt, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: parsing body: %v", ErrCorrupt, err)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Unix(0, h.CreatedAt).UTC()
	}
	if n := binary.LittleEndian.Uint32(footer[4:8]); int(n) != len(snap.Indexes) {
		return nil, fmt.Errorf("%w: footer lists %d indexes, body has %d", ErrCorrupt, n, len(snap.Indexes))
	}
	return &snap, nil
}
