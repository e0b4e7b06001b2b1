package kernel

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Location is the source position a panic was raised at.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	if l.File == "" {
		return "unknown"
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// PanicRecord is what the reporter prints. It lives only while the failure
// is being reported.
type PanicRecord struct {
	Message  string
	// Alloc is set instead of Message when the heap ran out.
	Alloc    *Layout
	Location Location
}

// Recover is the kernel-wide panic hook. It must be deferred directly by
// every entry point. When the goroutine is panicking the value is turned into
// a PanicRecord and reported; Recover then never returns.
func (k *Kernel) Recover() {
	r := recover()
	if r == nil {
		return
	}
	rec := PanicRecord{Location: panicLocation()}
	if e, ok := r.(*AllocError); ok {
		rec.Alloc = &e.Layout
	} else {
		rec.Message = panicMessage(r)
	}
	k.Panic(rec)
}

// numBuf holds formatted numbers while a failure is reported. A panic
// inside Panic is not supported, so one buffer is enough.
var numBuf [20]byte

// Panic reports rec on the console, signals Failed when running tests and
// halts. It never returns.
//
// The failure may come from the allocator, so the report is written from
// constant strings plus a static buffer for numbers.
func (k *Kernel) Panic(rec PanicRecord) {
	c := k.Console
	c.WriteString("[failed]\n\n")
	c.WriteString("Error: ")
	if rec.Alloc != nil {
		writeLayout(c, *rec.Alloc)
	} else {
		c.WriteString(rec.Message)
	}
	c.WriteString("\n")
	if rec.Location.File != "" {
		c.WriteString("at ")
		c.WriteString(rec.Location.File)
		c.WriteString(":")
		c.Write(strconv.AppendInt(numBuf[:0], int64(rec.Location.Line), 10))
		c.WriteString("\n")
	}
	c.WriteString("\n")

	if k.Mode == Test {
		Exit(k.Port, Failed)
	}
	k.HltLoop()
}

// writeLayout prints the text of AllocError.Error without building it.
func writeLayout(c Console, l Layout) {
	c.WriteString("allocation error: Layout { size: ")
	c.Write(strconv.AppendUint(numBuf[:0], uint64(l.Size), 10))
	c.WriteString(", align: ")
	c.Write(strconv.AppendUint(numBuf[:0], uint64(l.Align), 10))
	c.WriteString(" }")
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// panicLocation walks the stack of the deferred call looking for the
// runtime's panic entry; the frame right after it is the one that panicked.
func panicLocation() Location {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	inPanic := false
	for {
		f, more := frames.Next()
		switch {
		case strings.HasPrefix(f.Function, "runtime.gopanic"):
			inPanic = true
		case inPanic && !strings.HasPrefix(f.Function, "runtime."):
			return Location{File: trimPath(f.File), Line: f.Line}
		}
		if !more {
			return Location{}
		}
	}
}

// trimPath keeps the last two path elements, enough to find the file.
func trimPath(file string) string {
	i := strings.LastIndexByte(file, '/')
	if i < 0 {
		return file
	}
	if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
		return file[j+1:]
	}
	return file
}
