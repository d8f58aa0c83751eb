package disass

import (
	"debug/elf"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/sigkit/pkg/signature"
)

// Synthetic load base for relocatable objects. Nonzero so small immediate
// constants never collide with section addresses.
const relBase uint64 = 0x10000

// rebaseSections assigns non-overlapping synthetic bases to the loadable
// sections of a relocatable object, which all claim address zero.
func rebaseSections(secs []*elf.Section) map[elf.SectionIndex]uint64 {
	bases := make(map[elf.SectionIndex]uint64)
	base := relBase
	for i, sec := range secs {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Type == elf.SHT_NOBITS || sec.Size == 0 {
			continue
		}
		bases[elf.SectionIndex(i)] = base
		align := sec.Addralign
		if align < 16 {
			align = 16
		}
		base += (sec.Size + align - 1) &^ (align - 1)
	}
	return bases
}

// NewImageFromELF loads an x86-64 ELF object or executable into an Image
// and analyzes it. An empty platform derives one from the ELF header.
// Relocatable objects get synthetic section bases so reads and symbol
// addresses stay section-accurate; relocations are not applied, so their
// cross-section references and call displacements decode as plain
// constants.
func NewImageFromELF(path string, platform string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %v", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, f.Machine)
	}
	if platform == "" {
		platform = "linux-x86_64"
	}

	img := newImage(platform)

	var bases map[elf.SectionIndex]uint64
	if f.Type == elf.ET_REL {
		bases = rebaseSections(f.Sections)
	}
	for i, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Type == elf.SHT_NOBITS || sec.Size == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			log.WithField("section", sec.Name).WithError(err).Warn("failed to read section data")
			continue
		}
		addr := sec.Addr
		if base, ok := bases[elf.SectionIndex(i)]; ok {
			addr = base
		}
		img.addSection(sec.Name, addr, data)
	}

	syms, err := f.Symbols()
	if err != nil {
		// A stripped binary has nothing to fingerprint against.
		log.WithField("path", path).WithError(err).Warn("no symbol table")
		return img, nil
	}
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		// In relocatable objects symbol values are section-relative.
		value := sym.Value
		if base, ok := bases[sym.Section]; ok {
			value += base
		}
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC:
			class := signature.SymbolFunction
			if sym.Section == elf.SHN_UNDEF {
				class = signature.SymbolImport
			}
			img.symbols[value] = signature.Symbol{Name: sym.Name, Class: class}
			if sym.Section != elf.SHN_UNDEF && sym.Size > 0 {
				img.addFunction(
					signature.Symbol{Name: sym.Name, Class: class},
					value, value+sym.Size,
					functionType(sym.Name),
				)
			}
		case elf.STT_OBJECT:
			img.dataVars[value] = struct{}{}
			img.symbols[value] = signature.Symbol{Name: sym.Name, Class: signature.SymbolData}
		}
	}

	img.analyze()
	return img, nil
}

// functionType builds the minimal function type descriptor a symbol-only
// loader can know. Debug-info-aware producers replace this with real
// parameter and return types.
func functionType(name string) *signature.Type {
	return &signature.Type{
		Name:     name,
		Class:    signature.TypeFunction,
		Function: &signature.FunctionClass{},
	}
}
