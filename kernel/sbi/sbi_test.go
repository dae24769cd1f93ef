package sbi

import "testing"

type recordingFirmware struct {
	out []byte
}

func (f *recordingFirmware) SetTimer(uint64)       {}
func (f *recordingFirmware) ConsolePutchar(c byte) { f.out = append(f.out, c) }
func (f *recordingFirmware) Shutdown(bool)         {}

func TestConsole(t *testing.T) {
	fw := new(recordingFirmware)
	console := Console{Firmware: fw}

	n, err := console.Write([]byte("Hello, world!\n"))
	if err != nil {
		t.Fatal(err)
	}

	if n != 14 || string(fw.out) != "Hello, world!\n" {
		t.Fatalf("expected the bytes to reach the firmware; got %d bytes %q", n, fw.out)
	}
}
