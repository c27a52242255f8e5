package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"
)

// ChunkSize is the read size used when streaming file content into a hash.
const ChunkSize = 8 * 1024

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// DefaultAlgorithm is used when a snapshot does not name one.
const DefaultAlgorithm = SHA256

// Read modes for DigestFile.
const (
	ReadAuto   = "auto"
	ReadStream = "stream"
	ReadMmap   = "mmap"
)

// MmapMinSize is the smallest file ReadAuto maps into memory.
const MmapMinSize = 128 * 1024

var openMmapReader = mmap.Open

var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ChunkSize)
		return &buf
	},
}

// New returns a fresh hash state for the named algorithm.
func New(algorithm string) (hash.Hash, error) {
	switch Normalize(algorithm) {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(32, nil), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// Normalize lowercases the name and maps the empty string to the default.
func Normalize(algorithm string) string {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		return DefaultAlgorithm
	}
	return algorithm
}

// Supported reports whether algorithm can be passed to New.
func Supported(algorithm string) bool {
	switch Normalize(algorithm) {
	case SHA256, BLAKE3:
		return true
	}
	return false
}

// ValidReadMode reports whether mode is accepted by DigestFile.
func ValidReadMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ReadAuto, ReadStream, ReadMmap:
		return true
	}
	return false
}

// DigestFile hashes the file at path, reading it either through a file
// descriptor or a read-only memory map. ReadAuto maps files of at least
// MmapMinSize bytes and falls back to streaming if mapping fails.
func DigestFile(path, algorithm, mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ReadMmap:
		return digestMmap(path, algorithm)
	case ReadStream:
		return Digest(path, algorithm)
	default:
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.Size() >= MmapMinSize {
			if digest, err := digestMmap(path, algorithm); err == nil {
				return digest, nil
			}
		}
		return Digest(path, algorithm)
	}
}

func digestMmap(path, algorithm string) (string, error) {
	r, err := openMmapReader(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return DigestReader(io.NewSectionReader(r, 0, int64(r.Len())), algorithm)
}

// Digest streams the file at path through the named algorithm and returns
// the lowercase hex digest.
func Digest(path, algorithm string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	adviseSequential(file)
	return DigestReader(file, algorithm)
}

// DigestReader hashes r in ChunkSize pieces without buffering the whole input.
func DigestReader(r io.Reader, algorithm string) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}

	bufferPtr := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bufferPtr)
	buffer := *bufferPtr

	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			if _, err := h.Write(buffer[:n]); err != nil {
				return "", err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
