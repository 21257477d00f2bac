package discovery

import (
	"fmt"
	"os"
	"regexp"
	"sort"
)

// Matches top-level test functions:
//   - func TestCreateUser(t *testing.T)
//   - func Test_login(t *testing.T)
//   - func Test(t *testing.T)
//
// The name after Test must not start with a lower-case letter, as go test requires.
var testFuncPattern = regexp.MustCompile(`(?m)^func\s+(Test(?:[^a-z\s(][\w]*)?)\s*\(\s*\w+\s+\*testing\.T\s*\)`)

// Parser parses Go test files to extract test functions
type Parser struct{}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

// FindTestCases finds all test functions in a test file, sorted by name
func (p *Parser) FindTestCases(filePath string) ([]string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", filePath, err)
	}

	testCasesMap := make(map[string]bool) // Use map to avoid duplicates
	for _, match := range testFuncPattern.FindAllStringSubmatch(string(content), -1) {
		if len(match) > 1 && match[1] != "TestMain" {
			testCasesMap[match[1]] = true
		}
	}

	testCases := make([]string, 0, len(testCasesMap))
	for testCase := range testCasesMap {
		testCases = append(testCases, testCase)
	}
	sort.Strings(testCases)

	return testCases, nil
}
