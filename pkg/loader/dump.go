package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/akhildatla/sim86/pkg/vm"
)

// Compression is the encoding of a memory dump file.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFromPath picks the dump encoding from the file extension:
// .sz is snappy, .zst is zstd, anything else is raw.
func CompressionFromPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sz":
		return CompressionSnappy
	case ".zst":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// EncodeMemoryDump compresses a memory image.
func EncodeMemoryDump(mem []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionSnappy:
		return snappy.Encode(nil, mem), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer enc.Close()
		return enc.EncodeAll(mem, nil), nil
	default:
		return mem, nil
	}
}

// DecodeMemoryDump reverses EncodeMemoryDump and checks that the result
// fits in memory.
func DecodeMemoryDump(data []byte, c Compression) ([]byte, error) {
	var mem []byte
	switch c {
	case CompressionSnappy:
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, errors.NewNotValid(err, "snappy memory dump")
		}
		if n > vm.MemorySize {
			return nil, errors.NotValidf("memory dump of %d bytes (max %d)", n, vm.MemorySize)
		}
		if mem, err = snappy.Decode(nil, data); err != nil {
			return nil, errors.NewNotValid(err, "snappy memory dump")
		}
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer dec.Close()
		if mem, err = dec.DecodeAll(data, nil); err != nil {
			return nil, errors.NewNotValid(err, "zstd memory dump")
		}
	default:
		mem = data
	}

	if len(mem) > vm.MemorySize {
		return nil, errors.NotValidf("memory dump of %d bytes (max %d)", len(mem), vm.MemorySize)
	}
	return mem, nil
}

// WriteMemoryDump writes a memory image to path, compressed according to
// the extension.
func WriteMemoryDump(path string, mem []byte) error {
	c := CompressionFromPath(path)
	data, err := EncodeMemoryDump(mem, c)
	if err != nil {
		return errors.Annotatef(err, "encoding memory dump")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Annotatef(err, "writing memory dump %s", path)
	}
	logger.Debugf("wrote %d byte memory dump to %s (%s, %d bytes on disk)", len(mem), path, c, len(data))
	return nil
}

// ReadMemoryDump reads a memory image written by WriteMemoryDump. A dump
// shorter than the address space is returned as is; VM loading zeroes the
// rest.
func ReadMemoryDump(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading memory dump %s", path)
	}
	mem, err := DecodeMemoryDump(data, CompressionFromPath(path))
	if err != nil {
		return nil, errors.Annotatef(err, "memory dump %s", path)
	}
	return mem, nil
}
