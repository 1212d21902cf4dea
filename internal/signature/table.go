package signature

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
)

//go:embed default_signatures.yaml
var defaultTable []byte

// Signature describes how to detect one algorithm.
type Signature struct {
	// Patterns are regular expressions matched case-insensitively.
	Patterns []string `yaml:"patterns" json:"patterns"`

	// RiskRule names the rule that rates a match. Empty means "constant".
	RiskRule string `yaml:"risk_rule,omitempty" json:"risk_rule,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Table maps category to algorithm to Signature.
type Table map[string]map[string]Signature

// Len returns the number of algorithms in the table.
func (t Table) Len() int {
	n := 0
	for _, algorithms := range t {
		n += len(algorithms)
	}
	return n
}

// Validate checks that every risk rule named by the table is registered in
// rules.
func (t Table) Validate(rules *RuleSet) error {
	for category, algorithms := range t {
		for algorithm, sig := range algorithms {
			if sig.RiskRule == "" {
				continue
			}
			if _, ok := rules.Get(sig.RiskRule); !ok {
				return fmt.Errorf("%w: %q (used by %s/%s)", ErrUnknownRiskRule, sig.RiskRule, category, algorithm)
			}
		}
	}
	return nil
}

// DefaultTable returns the built-in signature table.
func DefaultTable() Table {
	t, err := ParseYAML(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("signature: invalid built-in table: %v", err))
	}
	return t
}

// ParseYAML parses a YAML signature table.
func ParseYAML(data []byte) (Table, error) {
	t := Table{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse signature table: %w", err)
	}
	return t, nil
}

// ParseJSON parses a JSON signature table.
func ParseJSON(data []byte) (Table, error) {
	t := Table{}
	if err := jsonutil.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse signature table: %w", err)
	}
	return t, nil
}

// ReadTable reads a table file. The format follows the extension: .json is
// JSON, .yaml and .yml are YAML.
func ReadTable(path string) (Table, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadTable returns the table to use for a run.
//
// An empty path yields the built-in table. A path that cannot be read or
// parsed yields an empty table and a warning, so the Matcher finds nothing
// but the run continues.
func LoadTable(path string, logger *slog.Logger) Table {
	if path == "" {
		return DefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	t, err := ReadTable(path)
	if err != nil {
		logger.Warn("signature table unavailable, local matching disabled", "path", path, "error", err)
		return Table{}
	}
	return t
}
