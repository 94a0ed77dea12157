// Command mkblockfs formats a backing file as a fresh blockfs image,
// flag-driven, printing a summary of the resulting layout on success.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eduos/blockfs/fs"
)

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func main() {
	var (
		filename string
		sizeMB   uint
		help     bool
	)

	flag.StringVar(&filename, "file", "", "the image filename to create")
	flag.UintVar(&sizeMB, "size", 256, "the size of the filesystem (in megabytes)")
	flag.BoolVar(&help, "help", false, "display usage")
	flag.Parse()

	if help || filename == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -file <path> [-size MB]\n", os.Args[0])
		flag.PrintDefaults()
		if help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if sizeMB == 0 {
		die("size must be at least 1 MB\n")
	}

	if err := fs.Format(filename, uint32(sizeMB)); err != nil {
		die("mkblockfs: %s\n", err)
	}

	fmt.Printf("formatted %s (%d MiB)\n", filename, sizeMB)
}
