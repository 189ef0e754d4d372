// Command bffvm executes a BFO binary object.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/CunningBard/bff"
)

const defaultProgramPath = "main.bfo"

func main() {
	var debug bool
	flag.BoolVar(&debug, "d", false, "reserved, parsed but unused (matches the original runner's debug flag)")
	flag.BoolVar(&debug, "debug", false, "reserved, parsed but unused (matches the original runner's debug flag)")
	flag.Parse()

	path := defaultProgramPath
	if args := flag.Args(); len(args) > 0 {
		path = args[0]
	} else {
		fmt.Fprintf(os.Stderr, "no program path given, defaulting to %q\n", defaultProgramPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "couldn't read program:", err)
		os.Exit(1)
	}

	prog, err := bff.ReadBFO(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "couldn't parse BFO file:", err)
		os.Exit(1)
	}
	if prog.Version != bff.Version {
		fmt.Fprintf(os.Stderr, "version mismatch, expected %v, got %v\n", bff.Version, prog.Version)
	}

	vm := bff.New()
	if err := vm.LoadProgram(prog); err != nil {
		fmt.Fprintln(os.Stderr, "couldn't load program:", err)
		os.Exit(1)
	}

	if err := vm.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "program terminated with an error:", err)
		os.Exit(1)
	}
}
