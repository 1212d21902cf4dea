package inference

import (
	"fmt"
	"strings"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// Kind identifies one of the three analysis kinds.
type Kind int

const (
	// KindAlgorithm asks which symmetric, asymmetric and hash algorithms
	// the code uses.
	KindAlgorithm Kind = iota

	// KindKey asks how keys are derived (dynamic factors and flow).
	KindKey

	// KindCustom asks for custom or modified cryptographic routines.
	KindCustom
)

// kindSpec is the fixed per-kind behavior.
type kindSpec struct {
	name     string
	field    string
	cached   bool
	validate func(model.InferenceResult)
}

// kinds is indexed by Kind.
var kinds = [...]kindSpec{
	KindAlgorithm: {name: "algorithm", field: "algorithm_analysis", validate: validateAsymmetric},
	KindKey:       {name: "key", field: "key_analysis", validate: validateAsymmetric},
	KindCustom:    {name: "custom", field: "custom_analysis", cached: true, validate: validateAsymmetric},
}

// Kinds returns every analysis kind in report order.
func Kinds() []Kind {
	return []Kind{KindAlgorithm, KindKey, KindCustom}
}

// ParseKind parses a kind name such as "custom".
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if kinds[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindAlgorithm && k <= KindCustom
}

// String returns the kind name.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// ReportField returns the AnalysisReport field the kind populates, which is
// also the name used in "<name>_error" entries.
func (k Kind) ReportField() string {
	if !k.Valid() {
		return k.String()
	}
	return kinds[k].field
}

// Cached reports whether results of k are cached by content digest.
func (k Kind) Cached() bool {
	return k.Valid() && kinds[k].cached
}

// Response fields checked by validateAsymmetric.
const (
	asymmetricField     = "非对称加密"
	asymmetricAlgorithm = "算法"
	asymmetricKeyLength = "密钥长度"
)

// validateAsymmetric marks an asymmetric cipher object that lacks either
// its algorithm or its key length. The rest of the result is kept.
func validateAsymmetric(r model.InferenceResult) {
	v, ok := r[asymmetricField]
	if !ok {
		return
	}
	obj, ok := v.(map[string]any)
	if !ok {
		r[asymmetricField] = map[string]any{"value": v, model.ErrorKey: MissingFieldsMarker}
		return
	}
	_, hasAlgorithm := obj[asymmetricAlgorithm]
	_, hasKeyLength := obj[asymmetricKeyLength]
	if !hasAlgorithm || !hasKeyLength {
		obj[model.ErrorKey] = MissingFieldsMarker
	}
}
