// Command bffasm assembles a BFFASM source file into a BFO binary object.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/CunningBard/bff"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "o", "", "output .bfo path (default: input path with .bfo extension)")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bffasm [-o output.bfo] <input.bffasm>")
		os.Exit(1)
	}
	inPath := args[0]

	source, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "couldn't read source:", err)
		os.Exit(1)
	}

	prog, err := bff.Assemble(string(source))
	if err != nil {
		fmt.Fprintln(os.Stderr, "assembly failed:", err)
		os.Exit(1)
	}

	data := bff.WriteBFO(prog)
	if readBack, err := bff.ReadBFO(data); err != nil || len(readBack.Instructions) != len(prog.Instructions) {
		fmt.Fprintln(os.Stderr, "internal error: assembled output failed its own round-trip check:", err)
		os.Exit(1)
	}

	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, ".bffasm") + ".bfo"
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "couldn't write output:", err)
		os.Exit(1)
	}
}
