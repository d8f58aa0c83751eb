package disass

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/sigkit/pkg/signature"
)

// NewImageFromMachO loads an x86-64 Mach-O into an Image and analyzes it.
// Function boundaries come from LC_FUNCTION_STARTS when present, falling
// back to symbol-table entries.
func NewImageFromMachO(path string, platform string) (*Image, error) {
	m, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MachO file: %v", err)
	}
	defer m.Close()

	if m.CPU != types.CPUAmd64 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, m.CPU)
	}
	if platform == "" {
		platform = "darwin-x86_64"
	}

	img := newImage(platform)

	for _, sec := range m.Sections {
		if sec.Size == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			log.WithField("section", sec.Name).WithError(err).Warn("failed to read section data")
			continue
		}
		img.addSection(fmt.Sprintf("%s.%s", sec.Seg, sec.Name), sec.Addr, data)
	}

	if m.Symtab != nil {
		for _, sym := range m.Symtab.Syms {
			if sym.Name == "" || sym.Value == 0 {
				continue
			}
			img.symbols[sym.Value] = signature.Symbol{Name: sym.Name, Class: signature.SymbolFunction}
		}
	}

	for _, fn := range m.GetFunctions() {
		sym, ok := img.symbols[fn.StartAddr]
		if !ok {
			// Unnamed function starts still bound their neighbors.
			sym = signature.Symbol{Name: fmt.Sprintf("sub_%x", fn.StartAddr), Class: signature.SymbolFunction}
		}
		img.addFunction(sym, fn.StartAddr, fn.EndAddr, functionType(sym.Name))
	}

	img.analyze()
	return img, nil
}

// NewImage opens a binary by sniffing its format. ELF and Mach-O are the
// supported targets.
func NewImage(path string, platform string) (*Image, error) {
	if img, err := NewImageFromELF(path, platform); err == nil {
		return img, nil
	} else if errors.Is(err, ErrUnsupportedArch) {
		return nil, err
	}
	img, err := NewImageFromMachO(path, platform)
	if err != nil {
		log.WithField("path", path).Debug("not an ELF or MachO binary")
		return nil, ErrUnsupportedTarget
	}
	return img, nil
}
