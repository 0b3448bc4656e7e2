// Package codecache reads and writes precompiled module blobs (.hbc).
//
// Layout:
//
//	0..4    magic "HBC\x01"
//	4..8    CRC-32 (IEEE) of the payload, little-endian
//	8..12   source length in runes, little-endian
//	12..16  runtime version marker
//	16..20  engine flags marker
//	20..    payload chunk
//
// A blob is only executed when its markers match the running runtime. Blobs
// produced by another build are made acceptable by Patch, which copies the
// markers from a reference blob compiled in this process.
package codecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"
)

// HeaderSize is the number of bytes before the payload.
const HeaderSize = 20

// Magic opens every blob.
var Magic = []byte{'H', 'B', 'C', 0x01}

// Sentinel errors.
var (
	ErrMalformed     = errors.New("codecache: malformed blob")
	ErrCacheRejected = errors.New("codecache: cached data rejected")
)

// CompatibleHosts lists the Go release lines whose engine flags marker
// matches the current one. Blobs loaded on any other host get their flags
// marker patched too.
var CompatibleHosts = []string{"go1.22", "go1.23", "go1.24", "go1.25"}

// runtimeIdentity names the script runtime and the payload format.
const runtimeIdentity = "go-lua/5.2;hbc/1"

// Header is the decoded fixed-size prefix of a blob.
type Header struct {
	Checksum     uint32
	SourceLength int
	Version      [4]byte
	Flags        [4]byte
}

// String renders the header for diagnostics.
func (h Header) String() string {
	return fmt.Sprintf("crc=%08x source_length=%d version=%x flags=%x",
		h.Checksum, h.SourceLength, h.Version, h.Flags)
}

// ParseHeader decodes the header of blob.
func ParseHeader(blob []byte) (Header, error) {
	if len(blob) < HeaderSize || !bytes.Equal(blob[:4], Magic) {
		return Header{}, ErrMalformed
	}
	length, _ := DecodeLength(blob)
	h := Header{
		Checksum:     binary.LittleEndian.Uint32(blob[4:8]),
		SourceLength: length,
	}
	copy(h.Version[:], blob[12:16])
	copy(h.Flags[:], blob[16:20])
	return h, nil
}

// DecodeLength returns the source length stored at bytes 8..12:
// the sum of blob[8+i] * 256^i for i in 0..3.
func DecodeLength(blob []byte) (int, error) {
	if len(blob) < 12 {
		return 0, ErrMalformed
	}
	length := 0
	for i := 3; i >= 0; i-- {
		length = length*256 + int(blob[8+i])
	}
	return length, nil
}

// zeroWidth is U+200B ZERO WIDTH SPACE.
const zeroWidth = "\u200b"

// Placeholder returns a string of exactly n runes to stand in for the
// original source: a quoted run of zero-width spaces. Lengths below 2
// yield the empty string.
func Placeholder(n int) string {
	if n <= 1 {
		return ""
	}
	return `"` + strings.Repeat(zeroWidth, n-2) + `"`
}

// markers returns the version and flags markers of the running process.
func markers() (version, flags [4]byte) {
	binary.LittleEndian.PutUint32(version[:], crc32.ChecksumIEEE([]byte(runtimeIdentity)))
	binary.LittleEndian.PutUint32(flags[:], crc32.ChecksumIEEE([]byte(runtime.GOOS+"/"+runtime.GOARCH)))
	return version, flags
}

// Build produces a blob for chunk, the executable form of source.
// The header records source's rune count.
func Build(source string, chunk []byte) []byte {
	version, flags := markers()

	blob := make([]byte, HeaderSize+len(chunk))
	copy(blob[:4], Magic)
	binary.LittleEndian.PutUint32(blob[4:8], crc32.ChecksumIEEE(chunk))
	binary.LittleEndian.PutUint32(blob[8:12], uint32(utf8.RuneCountInString(source)))
	copy(blob[12:16], version[:])
	copy(blob[16:20], flags[:])
	copy(blob[HeaderSize:], chunk)
	return blob
}

var (
	referenceOnce sync.Once
	referenceBlob []byte
)

// Reference returns the blob of a trivial chunk compiled by this process.
// Its markers are what the running runtime expects.
func Reference() []byte {
	referenceOnce.Do(func() {
		referenceBlob = Build(`"Hydro"`, []byte(`return "Hydro"`))
	})
	return referenceBlob
}

// HostCompatible reports whether goVersion (as runtime.Version returns it)
// belongs to a release line in CompatibleHosts.
func HostCompatible(goVersion string) bool {
	for _, line := range CompatibleHosts {
		if goVersion == line || strings.HasPrefix(goVersion, line+".") {
			return true
		}
	}
	return false
}

// Patch returns a copy of blob whose version marker (bytes 12..16) is taken
// from reference. The flags marker (16..20) is copied as well unless
// goVersion is a compatible host.
func Patch(blob, reference []byte, goVersion string) ([]byte, error) {
	if len(blob) < HeaderSize {
		return nil, ErrMalformed
	}
	if len(reference) < HeaderSize {
		return nil, fmt.Errorf("%w: reference", ErrMalformed)
	}

	out := append([]byte(nil), blob...)
	copy(out[12:16], reference[12:16])
	if !HostCompatible(goVersion) {
		copy(out[16:20], reference[16:20])
	}
	return out, nil
}

// Compile checks blob against the running runtime and returns its payload.
// placeholder must have as many runes as the recorded source length.
// Any mismatch rejects the blob; there is no fallback to source.
func Compile(placeholder string, blob []byte) ([]byte, error) {
	h, err := ParseHeader(blob)
	if err != nil {
		return nil, err
	}

	version, flags := markers()
	switch {
	case h.Version != version:
		return nil, fmt.Errorf("%w: runtime version marker %x, want %x", ErrCacheRejected, h.Version, version)
	case h.Flags != flags:
		return nil, fmt.Errorf("%w: engine flags marker %x, want %x", ErrCacheRejected, h.Flags, flags)
	case utf8.RuneCountInString(placeholder) != h.SourceLength:
		return nil, fmt.Errorf("%w: source length %d, placeholder has %d",
			ErrCacheRejected, h.SourceLength, utf8.RuneCountInString(placeholder))
	}

	payload := blob[HeaderSize:]
	if crc32.ChecksumIEEE(payload) != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCacheRejected)
	}
	return payload, nil
}
