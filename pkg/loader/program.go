// Package loader reads and writes the files sim86 works with: program
// images, memory dumps and recorded traces.
//
//	code, err := loader.LoadProgram("listing_0041")
//	err = loader.WriteMemoryDump("run.data.zst", machine.MemorySnapshot())
//	records, err := loader.LoadTrace("golden.parquet")
//
// Validation failures are juju NotValid errors so that callers can tell a
// bad file from an I/O failure with errors.IsNotValid.
package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/akhildatla/sim86/pkg/assembler"
	"github.com/akhildatla/sim86/pkg/vm"
)

var logger = loggo.GetLogger("sim86.loader")

// SourceExt is the extension of assembly sources. Files with it are
// assembled by LoadProgram instead of read as machine code.
const SourceExt = ".asm"

// LoadProgram reads a program image. Assembly sources (.asm) are
// assembled first. The image must be non-empty and leave room for the
// hlt appended at load time.
func LoadProgram(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading program %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), SourceExt) {
		program, err := assembler.Assemble(string(data))
		if err != nil {
			return nil, errors.Annotatef(err, "assembling %s", path)
		}
		logger.Debugf("assembled %s to %d bytes", path, len(program.Code))
		data = program.Code
	}

	if err := ValidateProgram(data); err != nil {
		return nil, errors.Annotatef(err, "program %s", path)
	}
	logger.Debugf("loaded %d byte program from %s", len(data), path)
	return data, nil
}

// ValidateProgram checks that a program image can be loaded into the VM.
func ValidateProgram(code []byte) error {
	if len(code) == 0 {
		return errors.NotValidf("empty program")
	}
	if len(code) > vm.MaxProgramSize {
		return errors.NotValidf("program of %d bytes (max %d)", len(code), vm.MaxProgramSize)
	}
	return nil
}
