// Package testutil provides testing utilities for sim86 tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// TempProgram writes a machine code image without an extension, the way
// the reference listings are stored, and returns its path.
func TempProgram(t *testing.T, code []byte) string {
	t.Helper()
	return TempFile(t, string(code), "")
}

// TempSource writes assembly source to a temporary .asm file.
func TempSource(t *testing.T, source string) string {
	t.Helper()
	return TempFile(t, source, ".asm")
}

// CountdownProgram returns a three instruction program:
//
//	mov cx, 3
//	loop -2
//	sub cx, cx
func CountdownProgram() []byte {
	return []byte{0xB9, 0x03, 0x00, 0xE2, 0xFE, 0x29, 0xC9}
}

// CountdownSource returns the source that assembles to CountdownProgram.
func CountdownSource() string {
	return `bits 16

mov cx, 3
top:
loop top
sub cx, cx
`
}

// CountdownTrace returns the trace lines of CountdownProgram.
func CountdownTrace() []string {
	return []string{
		"mov cx, 3 ; cx:0x0->0x3 ip:0x0->0x3",
		"loop -2 ; cx:0x3->0x2 ip:0x3->0x3",
		"loop -2 ; cx:0x2->0x1 ip:0x3->0x3",
		"loop -2 ; cx:0x1->0x0 ip:0x3->0x5",
		"sub cx, cx ; ip:0x5->0x7 flags:->Z",
	}
}

// AssertUint16Equal checks if two register values are equal.
func AssertUint16Equal(t *testing.T, expected, actual uint16) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %#04x, got %#04x", expected, actual)
	}
}

// AssertInt64Equal checks if two int64 values are equal.
func AssertInt64Equal(t *testing.T, expected, actual int64) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}
