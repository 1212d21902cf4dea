package model

// RiskLevel represents how concerning a detected algorithm usage is.
//
// Design decision: Levels are small integers rather than strings because they
// are serialized as integers in reports and compared numerically when
// summarizing a run. The String() method provides human-readable output.
type RiskLevel int

const (
	// RiskUnknown is the zero value and is never produced by a risk rule.
	RiskUnknown RiskLevel = iota

	// RiskLow is the default level for any matched algorithm.
	RiskLow

	// RiskMedium indicates a questionable parameter choice, such as a
	// short elliptic curve.
	RiskMedium

	// RiskHigh indicates a known-weak parameterization, such as an RSA key
	// shorter than 2048 bits.
	RiskHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// AlgorithmFinding is a single local signature match.
// One finding is produced per (algorithm, pattern) occurrence. The same
// algorithm may appear under several categories; findings are not
// deduplicated.
type AlgorithmFinding struct {
	// Category is the signature table category, e.g. "symmetric".
	Category string `json:"category"`

	// Algorithm is the algorithm name within the category, e.g. "AES".
	Algorithm string `json:"algorithm"`

	// Confidence is in [0,1]. Local matches use a fixed value.
	Confidence float64 `json:"confidence"`

	// RiskLevel is computed by the algorithm's risk rule.
	RiskLevel RiskLevel `json:"risk_level"`

	// Pattern is the signature pattern that matched.
	Pattern string `json:"pattern"`
}

// RiskSummary counts local findings by risk level.
type RiskSummary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the number of counted findings.
func (s RiskSummary) Total() int {
	return s.High + s.Medium + s.Low
}

// SummarizeFindings counts findings by risk level.
func SummarizeFindings(findings []AlgorithmFinding) RiskSummary {
	var s RiskSummary
	for _, f := range findings {
		switch f.RiskLevel {
		case RiskHigh:
			s.High++
		case RiskMedium:
			s.Medium++
		case RiskLow, RiskUnknown:
			s.Low++
		}
	}
	return s
}
