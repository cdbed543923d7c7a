// Command elfpeek prints the program headers of an ELF file.
//
// Grounded on the teacher's kernel/chentry.go: a single-file, flag-less
// `<filename>` utility that opens an ELF and reports on its headers.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/keystone-riscv/enclave-host/internal/elfview"
)

func usage(me string) {
	fmt.Printf("%s <filename>\n\nPrint the program headers of an ELF file.\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage(os.Args[0])
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	view, verr := elfview.Parse(data)
	if verr != 0 /* defs.ErrNone */ {
		log.Fatalf("elfpeek: %s", verr)
	}

	class := 32
	if view.Is64() {
		class = 64
	}
	fmt.Printf("class=%d machine=%d entry=0x%x phdrs=%d\n", class, view.Machine(), view.EntryPoint(), view.NumPhdrs())

	for i := 0; i < view.NumPhdrs(); i++ {
		ph, perr := view.Phdr(i)
		if perr != 0 {
			log.Fatalf("elfpeek: phdr %d: %s", i, perr)
		}
		loadMark := " "
		if ph.Type == elfview.PT_LOAD {
			loadMark = "L"
		}
		fmt.Printf("%s[%2d] type=%-8d vaddr=0x%016x paddr=0x%016x filesz=0x%-8x memsz=0x%-8x align=0x%x\n",
			loadMark, i, ph.Type, ph.Vaddr, ph.Paddr, ph.Filesz, ph.Memsz, ph.Align)
	}
}
