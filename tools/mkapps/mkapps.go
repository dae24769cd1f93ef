package main

import (
	"errors"
	"flag"
	"fmt"
	"gopherv/userland/apps"
	"os"
	"path/filepath"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkapps] error: %s\n", err.Error())
	os.Exit(1)
}

// writeCatalog builds every program in catalog and writes it to dir as
// <name>.elf. The file names sort in catalog order.
func writeCatalog(dir string, catalog []apps.Program) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(catalog))
	for _, prog := range catalog {
		image, err := prog.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prog.Name, err)
		}

		path := filepath.Join(dir, prog.Name+".elf")
		if err = os.WriteFile(path, image, 0644); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	return written, nil
}

func runTool() error {
	output := flag.String("out", "", "the directory to write the application images to")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "mkapps: build the demonstration applications as RV64 ELF executables\n\n")
		fmt.Fprint(os.Stderr, "Usage: mkapps -out dir\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *output == "" {
		return errors.New("missing output directory")
	}

	written, err := writeCatalog(*output, apps.Catalog())
	if err != nil {
		return err
	}

	for _, path := range written {
		fmt.Println(path)
	}
	return nil
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
