package main

import (
	"flag"
	"fmt"
	"gopherv/device/serial"
	"gopherv/kernel/hal"
	"gopherv/kernel/kmain"
	"gopherv/kernel/loader"
	"gopherv/tools/framemap"
	"gopherv/userland/apps"
	"os"

	// Console drivers register themselves with the device registry.
	_ "gopherv/device/stdio"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[gopherv] error: %s\n", err.Error())
	os.Exit(1)
}

// catalogImages builds the built-in demonstration applications.
func catalogImages() (loader.Images, error) {
	var images loader.Images
	for _, prog := range apps.Catalog() {
		data, err := prog.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prog.Name, err)
		}
		images = append(images, loader.App{Name: prog.Name, Data: data})
	}
	return images, nil
}

func writeFrameMap(path string, k *kmain.Kernel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return framemap.Encode(f, k.FrameMap(), k.FrameStats())
}

func runKernel() error {
	cfg := hal.DefaultConfig()

	appDir := flag.String("apps", "", "a directory with the application ELF images; the built-in applications are used if empty")
	ttyPath := flag.String("tty", "", "a terminal device to use as the console")
	memSize := flag.Uint64("mem", cfg.MemorySize, "the size of RAM in bytes")
	ticks := flag.Uint64("ticks-per-insn", cfg.TicksPerInstruction, "the number of timer ticks per retired instruction")
	frameMapPath := flag.String("framemap", "", "write the physical frame map after boot to this PNG file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "gopherv: boot the kernel on a simulated RV64 board\n\n")
		fmt.Fprint(os.Stderr, "Usage: gopherv [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.MemorySize = *memSize
	cfg.TicksPerInstruction = *ticks
	serial.DevicePath = *ttyPath

	var (
		images loader.Images
		err    error
	)
	if *appDir != "" {
		images, err = loader.Dir(*appDir)
	} else {
		images, err = catalogImages()
	}
	if err != nil {
		return err
	}

	m, kerr := hal.NewMachine(cfg)
	if kerr != nil {
		return kerr
	}
	defer m.Close()
	m.DetectHardware()

	var hooks []func(*kmain.Kernel)
	var frameMapErr error
	if *frameMapPath != "" {
		hooks = append(hooks, func(k *kmain.Kernel) {
			frameMapErr = writeFrameMap(*frameMapPath, k)
		})
	}

	if kerr = kmain.Kmain(m, images, hooks...); kerr != nil {
		return kerr
	}
	if frameMapErr != nil {
		return frameMapErr
	}

	if _, failure := m.Firmware.PoweredOff(); failure {
		return fmt.Errorf("machine powered off with a failure")
	}
	return nil
}

// main boots the kernel and exits with a non-zero status if the machine
// halted or was shut down with a failure.
func main() {
	if err := runKernel(); err != nil {
		exit(err)
	}
}
