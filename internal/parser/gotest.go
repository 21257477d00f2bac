package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"tss/internal/domain"
)

// maxLineSize bounds a single test2json line.
const maxLineSize = 4 << 20

// event is one line of `go test -json` (test2json) output.
type event struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// GoTestParser parses test2json event streams.
type GoTestParser struct{}

// NewGoTestParser creates a new GoTestParser
func NewGoTestParser() *GoTestParser {
	return &GoTestParser{}
}

// Parse reads test2json events and returns one outcome per top-level test,
// in the order the tests finished. Subtests fold into their parent. Lines that
// are not JSON events, such as build errors, are ignored.
func (p *GoTestParser) Parse(pkg string, r io.Reader) ([]domain.TestOutcome, error) {
	var (
		outcomes []domain.TestOutcome
		output   = make(map[string]*strings.Builder)
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Test == "" {
			continue
		}
		name, _, _ := strings.Cut(ev.Test, "/")

		switch ev.Action {
		case "output":
			b, ok := output[name]
			if !ok {
				b = &strings.Builder{}
				output[name] = b
			}
			b.WriteString(ev.Output)
		case "pass", "fail", "skip":
			if name != ev.Test {
				continue
			}
			o := domain.TestOutcome{
				TestID:   testID(pkg, name),
				Status:   domain.TestStatus(ev.Action),
				Duration: time.Duration(ev.Elapsed * float64(time.Second)),
			}
			if b, ok := output[name]; ok && ev.Action == "fail" {
				o.Output = b.String()
			}
			delete(output, name)
			outcomes = append(outcomes, o)
		}
	}
	if err := scanner.Err(); err != nil {
		return outcomes, fmt.Errorf("failed to read test output: %w", err)
	}
	return outcomes, nil
}

// SplitTestID splits "<pkg>.<TestName>" at the last dot.
func SplitTestID(id string) (pkg, name string, ok bool) {
	i := strings.LastIndex(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func testID(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
