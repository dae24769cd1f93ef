// Package kfmt implements the kernel's console formatting: a small Printf
// that never consults io.Stringer or reflection, a ring buffer holding output
// produced before a console is attached and the kernel panic banner.
package kfmt

import (
	"io"
	"unicode/utf8"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// console is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf supports the following subset of the fmt.Printf verbs:
//
// Strings:
//
//	%s the uninterpreted bytes of the string or byte slice
//	%c the character represented by a byte or rune
//
// Integers:
//
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//
// Booleans:
//
//	%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers are left-padded with spaces; base-8 and
// base-16 integers are left-padded with zeroes.
//
// The output of Printf is written to the sink registered via SetOutputSink.
// If no sink is available, the output is buffered into a ring buffer and
// replayed once a sink is attached.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	p := printer{w: w}

	var (
		argIndex int
		litStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		p.writeString(format[litStart:i])

		padLen := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = padLen*10 + int(format[i]-'0')
		}

		switch {
		case i == len(format):
			p.write(errNoVerb)
		case format[i] == '%':
			p.writeString("%")
		case isVerb(format[i]):
			if argIndex >= len(args) {
				p.write(errMissingArg)
				break
			}
			p.fmtArg(format[i], args[argIndex], padLen)
			argIndex++
		default:
			p.write(errNoVerb)
		}

		litStart = i + 1
	}

	if litStart < len(format) {
		p.writeString(format[litStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		p.write(errExtraArg)
	}
}

func isVerb(ch byte) bool {
	switch ch {
	case 'd', 'x', 'o', 's', 't', 'c':
		return true
	}
	return false
}

// printer renders a single Fprintf call.
type printer struct {
	w      io.Writer
	numBuf [maxBufSize]byte
}

func (p *printer) fmtArg(verb byte, arg interface{}, padLen int) {
	switch verb {
	case 'o':
		p.fmtInt(arg, 8, padLen)
	case 'd':
		p.fmtInt(arg, 10, padLen)
	case 'x':
		p.fmtInt(arg, 16, padLen)
	case 's':
		p.fmtString(arg, padLen)
	case 'c':
		p.fmtChar(arg)
	case 't':
		p.fmtBool(arg)
	}
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case b:
		p.write(trueValue)
	default:
		p.write(falseValue)
	}
}

func (p *printer) fmtChar(v interface{}) {
	var r rune
	switch ch := v.(type) {
	case byte:
		r = rune(ch)
	case rune:
		r = ch
	default:
		p.write(errWrongArgType)
		return
	}

	var enc [utf8.UTFMax]byte
	p.write(enc[:utf8.EncodeRune(enc[:], r)])
}

func (p *printer) fmtString(v interface{}, padLen int) {
	switch s := v.(type) {
	case string:
		p.repeat(' ', padLen-len(s))
		p.writeString(s)
	case []byte:
		p.repeat(' ', padLen-len(s))
		p.write(s)
	default:
		p.write(errWrongArgType)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types.
func (p *printer) fmtInt(v interface{}, base uint64, padLen int) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		p.write(errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	// Digits are produced right to left.
	pos := len(p.numBuf)
	for {
		pos--
		digit := byte(uval % base)
		if digit < 10 {
			p.numBuf[pos] = '0' + digit
		} else {
			p.numBuf[pos] = 'a' + digit - 10
		}

		if uval /= base; uval == 0 {
			break
		}
	}

	digits := len(p.numBuf) - pos
	if base == 10 {
		// space padding goes in front of the sign
		if neg {
			digits++
		}
		p.repeat(' ', padLen-digits)
		if neg {
			p.writeString("-")
		}
	} else {
		if neg {
			p.writeString("-")
		}
		p.repeat('0', padLen-digits)
	}

	p.write(p.numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func (p *printer) repeat(ch byte, count int) {
	var one = [1]byte{ch}
	for ; count > 0; count-- {
		p.write(one[:])
	}
}

func (p *printer) writeString(s string) {
	if len(s) != 0 {
		p.write([]byte(s))
	}
}

func (p *printer) write(b []byte) {
	if p.w != nil {
		p.w.Write(b)
		return
	}
	earlyPrintBuffer.Write(b)
}
