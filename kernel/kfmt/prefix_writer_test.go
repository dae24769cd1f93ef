package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input []string
		exp   string
	}{
		{[]string{""}, ""},
		{[]string{"\n"}, "[kernel] \n"},
		{[]string{"no line break anywhere"}, "[kernel] no line break anywhere"},
		{[]string{"line feed at the end\n"}, "[kernel] line feed at the end\n"},
		{
			[]string{"\nload_app\nnum_app = 3\ndone"},
			"[kernel] \n[kernel] load_app\n[kernel] num_app = 3\n[kernel] done",
		},
		{
			[]string{"split ", "line\n", "next"},
			"[kernel] split line\n[kernel] next",
		},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = PrefixWriter{Sink: &buf, Prefix: []byte("[kernel] ")}
		)

		expLen := 0
		for _, chunk := range spec.input {
			n, err := w.Write([]byte(chunk))
			if err != nil {
				t.Fatal(err)
			}
			if n != len(chunk) {
				t.Errorf("[spec %d] expected Write to report %d bytes; got %d", specIndex, len(chunk), n)
			}
			expLen += n
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected to get\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("write failed") }

func TestPrefixWriterErrors(t *testing.T) {
	w := PrefixWriter{Sink: failingWriter{}, Prefix: []byte("[hal] ")}

	if _, err := w.Write([]byte("data\n")); err == nil {
		t.Fatal("expected Write to propagate the sink error")
	}
}
