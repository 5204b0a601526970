package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/juju/errors"

	"github.com/akhildatla/sim86/pkg/vm"
)

func memoryImage() []byte {
	mem := make([]byte, vm.MemorySize)
	copy(mem, []byte{0xB9, 0x0C, 0x00, 0xF4})
	copy(mem[1000:], []byte("sim86"))
	return mem
}

func TestCompressionFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Compression
	}{
		{"run.data", CompressionNone},
		{"run.sz", CompressionSnappy},
		{"run.SZ", CompressionSnappy},
		{"dir/run.data.zst", CompressionZstd},
		{"run", CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := CompressionFromPath(tt.path); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMemoryDump_RoundTrip(t *testing.T) {
	mem := memoryImage()
	dir := t.TempDir()

	for _, name := range []string{"run.data", "run.sz", "run.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := WriteMemoryDump(path, mem); err != nil {
				t.Fatalf("WriteMemoryDump failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat failed: %v", err)
			}
			if CompressionFromPath(path) != CompressionNone && info.Size() >= int64(len(mem)) {
				t.Errorf("expected compressed dump, got %d bytes", info.Size())
			}

			got, err := ReadMemoryDump(path)
			if err != nil {
				t.Fatalf("ReadMemoryDump failed: %v", err)
			}
			if !bytes.Equal(mem, got) {
				t.Error("memory dump changed in round trip")
			}
		})
	}
}

func TestDecodeMemoryDump_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		c    Compression
	}{
		{"raw too large", make([]byte, vm.MemorySize+1), CompressionNone},
		{"snappy too large", snappy.Encode(nil, make([]byte, vm.MemorySize+1)), CompressionSnappy},
		{"snappy corrupt", []byte{0xFF, 0xFF, 0xFF}, CompressionSnappy},
		{"zstd corrupt", []byte("not zstd at all"), CompressionZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMemoryDump(tt.data, tt.c)
			if !errors.IsNotValid(err) {
				t.Errorf("expected NotValid, got %v", err)
			}
		})
	}
}
