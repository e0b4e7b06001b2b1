// Package testlog reads the serial log a test kernel writes.
//
// The kernel reports progress as plain text:
//
//	Running 3 tests
//	first...	[ok]
//	second...	[failed]
//
//	Error: assertion failed
//	at selftest/selftest.go:42
//
// A test may print before its result, in which case [ok] ends up on a later
// line.
package testlog

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

const (
	okTag     = "[ok]"
	failedTag = "[failed]"
	nameSep   = "...\t"
)

// Case is one test the kernel started.
type Case struct {
	Name   string
	Passed bool
	Output []string
}

// Failure is the panic banner.
type Failure struct {
	Test     string
	Message  string
	Location string
}

// Report is everything recognised in a log.
type Report struct {
	// Declared is the count from "Running N tests", or -1.
	Declared int
	Cases    []Case
	Failure  *Failure
	// Output holds lines that belong to no test.
	Output []string
}

// Passed counts the cases that reported [ok].
func (r *Report) Passed() int {
	n := 0
	for _, c := range r.Cases {
		if c.Passed {
			n++
		}
	}
	return n
}

// Complete reports whether every declared test passed and nothing failed.
func (r *Report) Complete() bool {
	return r.Failure == nil && r.Declared >= 0 && r.Passed() == r.Declared && len(r.Cases) == r.Declared
}

// Parser accumulates a Report line by line.
type Parser struct {
	r       Report
	pending *Case
	inPanic bool
	partial []byte
}

func NewParser() *Parser {
	return &Parser{r: Report{Declared: -1}}
}

// Feed consumes one line without its terminator.
func (p *Parser) Feed(line string) {
	line = strings.TrimRight(line, "\r")

	if n, ok := declared(line); ok {
		p.r.Declared = n
		return
	}

	if i := strings.Index(line, nameSep); i >= 0 && !p.inPanic {
		p.start(line[:i])
		p.result(line[i+len(nameSep):])
		return
	}

	p.result(line)
}

// start opens a case, abandoning one that never reported.
func (p *Parser) start(name string) {
	p.flush()
	p.pending = &Case{Name: name}
}

func (p *Parser) flush() {
	if p.pending != nil {
		p.r.Cases = append(p.r.Cases, *p.pending)
		p.pending = nil
	}
}

// result handles the text after a test name or a whole later line.
func (p *Parser) result(s string) {
	switch {
	case strings.HasSuffix(s, okTag) && !p.inPanic:
		if out := strings.TrimSuffix(s, okTag); out != "" {
			p.output(out)
		}
		if p.pending != nil {
			p.pending.Passed = true
			p.flush()
		}
	case strings.HasPrefix(s, failedTag):
		f := &Failure{}
		if p.pending != nil {
			f.Test = p.pending.Name
			p.flush()
		}
		p.r.Failure = f
		p.inPanic = true
	case p.inPanic && strings.HasPrefix(s, "Error: ") && p.r.Failure.Message == "":
		p.r.Failure.Message = strings.TrimPrefix(s, "Error: ")
	case p.inPanic && strings.HasPrefix(s, "at ") && p.r.Failure.Location == "":
		p.r.Failure.Location = strings.TrimPrefix(s, "at ")
	case p.inPanic && s == "":
	case s != "":
		p.output(s)
	}
}

func (p *Parser) output(s string) {
	if p.pending != nil {
		p.pending.Output = append(p.pending.Output, s)
		return
	}
	p.r.Output = append(p.r.Output, s)
}

// Report returns what has been parsed so far. A test still waiting for its
// result is included as not passed.
func (p *Parser) Report() *Report {
	r := p.r
	r.Cases = append([]Case(nil), p.r.Cases...)
	if p.pending != nil {
		r.Cases = append(r.Cases, *p.pending)
	}
	return &r
}

// Write implements io.Writer so a parser can sit behind io.MultiWriter.
// A partial line is held until its newline arrives.
func (p *Parser) Write(b []byte) (int, error) {
	data := append(p.partial, b...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		p.Feed(string(data[:i]))
		data = data[i+1:]
	}
	p.partial = append(p.partial[:0:0], data...)
	return len(b), nil
}

// Close feeds a trailing partial line.
func (p *Parser) Close() error {
	if len(p.partial) > 0 {
		p.Feed(string(p.partial))
		p.partial = nil
	}
	return nil
}

// Parse reads a whole log.
func Parse(r io.Reader) (*Report, error) {
	p := NewParser()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.Feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p.Report(), nil
}

func declared(line string) (int, bool) {
	if !strings.HasPrefix(line, "Running ") || !strings.HasSuffix(line, " tests") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "Running "), " tests"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
