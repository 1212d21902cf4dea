package signature

import (
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// Names of the built-in risk rules.
const (
	RuleConstant       = "constant"
	RuleWeakRSAModulus = "weak-rsa-modulus"
	RuleWeakECCCurve   = "weak-ecc-curve"
)

// RiskRule rates a match of one algorithm against the code it was found in.
//
// Rules are heuristics over source text. They flag likely weak
// parameterizations; they do not prove that weak parameters are used.
type RiskRule interface {
	Name() string
	Evaluate(code string) model.RiskLevel
}

// ConstantRule always returns Level.
type ConstantRule struct {
	Level model.RiskLevel
}

// Name implements RiskRule.
func (ConstantRule) Name() string { return RuleConstant }

// Evaluate implements RiskRule.
func (r ConstantRule) Evaluate(string) model.RiskLevel { return r.Level }

// rsaKeySizePatterns capture an RSA modulus size in bits. CryptoJS's keySize
// option is deliberately absent: it sizes AES keys in words.
var rsaKeySizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)RSA\.generate\(\s*(\d+)`),
	regexp.MustCompile(`(?i)modulusLength\s*[:=]\s*(\d+)`),
	regexp.MustCompile(`(?i)default_key_size\s*[:=]\s*['"]?(\d+)`),
	regexp.MustCompile(`(?i)generateKeyPair\(\s*(\d+)`),
	regexp.MustCompile(`(?i)NodeRSA\(\s*\{\s*b\s*:\s*(\d+)`),
}

// WeakRSAModulusRule rates RSA as high risk when the code generates or
// declares a modulus shorter than MinBits.
type WeakRSAModulusRule struct {
	MinBits int
}

// Name implements RiskRule.
func (WeakRSAModulusRule) Name() string { return RuleWeakRSAModulus }

// Evaluate implements RiskRule.
func (r WeakRSAModulusRule) Evaluate(code string) model.RiskLevel {
	for _, re := range rsaKeySizePatterns {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			bits, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if bits > 0 && bits < r.MinBits {
				return model.RiskHigh
			}
		}
	}
	return model.RiskLow
}

// DefaultWeakCurves lists curves with less than 112 bits of security.
var DefaultWeakCurves = []string{
	"secp112r1", "secp112r2",
	"secp128r1", "secp128r2",
	"secp160k1", "secp160r1", "secp160r2",
}

// WeakCurveRule rates ECC as medium risk when the code names a weak curve.
type WeakCurveRule struct {
	Curves []string
}

// Name implements RiskRule.
func (WeakCurveRule) Name() string { return RuleWeakECCCurve }

// Evaluate implements RiskRule.
func (r WeakCurveRule) Evaluate(code string) model.RiskLevel {
	lower := strings.ToLower(code)
	for _, curve := range r.Curves {
		if strings.Contains(lower, curve) {
			return model.RiskMedium
		}
	}
	return model.RiskLow
}

// RuleSet is a registry of risk rules by name.
type RuleSet struct {
	rules map[string]RiskRule
}

// NewRuleSet creates a registry containing rules.
func NewRuleSet(rules ...RiskRule) *RuleSet {
	s := &RuleSet{rules: make(map[string]RiskRule, len(rules))}
	for _, r := range rules {
		s.Register(r)
	}
	return s
}

// DefaultRules returns the built-in rules.
func DefaultRules() *RuleSet {
	return NewRuleSet(
		ConstantRule{Level: model.RiskLow},
		WeakRSAModulusRule{MinBits: 2048},
		WeakCurveRule{Curves: slices.Clone(DefaultWeakCurves)},
	)
}

// Register adds r, replacing any rule with the same name.
func (s *RuleSet) Register(r RiskRule) {
	s.rules[r.Name()] = r
}

// Get returns the rule registered under name.
func (s *RuleSet) Get(name string) (RiskRule, bool) {
	r, ok := s.rules[name]
	return r, ok
}

// Lookup returns the rule for name, falling back to a low constant rule for
// empty or unknown names.
func (s *RuleSet) Lookup(name string) RiskRule {
	if r, ok := s.rules[name]; ok && name != "" {
		return r
	}
	if r, ok := s.rules[RuleConstant]; ok {
		return r
	}
	return ConstantRule{Level: model.RiskLow}
}

// Names returns the registered rule names, sorted.
func (s *RuleSet) Names() []string {
	return slices.Sorted(maps.Keys(s.rules))
}
