package fusion

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"

	"github.com/example/authdoc/internal/verification"
)

var (
	ErrZeroWeight    = errors.New("fusion: weights sum to zero")
	ErrInvalidPolicy = errors.New("fusion: invalid policy")
	ErrUnknownPolicy = errors.New("fusion: unknown policy")
)

// Preset names.
const (
	WideBand   = "wide-band"
	NarrowBand = "narrow-band"
)

// Thresholds are the lower bounds of the Authentic and Suspicious classes.
type Thresholds struct {
	Authentic  float64 `toml:"authentic"`
	Suspicious float64 `toml:"suspicious"`
}

// Policy is a named weight and threshold bundle.
type Policy struct {
	Name       string
	Weights    map[verification.Metric]float64
	Thresholds Thresholds
}

// NewPolicy copies weights and validates the result.
func NewPolicy(name string, weights map[verification.Metric]float64, thresholds Thresholds) (Policy, error) {
	p := Policy{Name: name, Weights: lo.Assign(weights), Thresholds: thresholds}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks weights and thresholds.
func (p Policy) Validate() error {
	var errs []error
	total := 0.0
	for m, w := range p.Weights {
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("%w: unknown metric %q", ErrInvalidPolicy, m))
			continue
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("%w: negative weight %v for %s", ErrInvalidPolicy, w, m))
			continue
		}
		total += w
	}
	t := p.Thresholds
	if !(0 <= t.Suspicious && t.Suspicious <= t.Authentic && t.Authentic <= 1) {
		errs = append(errs, fmt.Errorf("%w: thresholds must satisfy 0 <= suspicious (%v) <= authentic (%v) <= 1",
			ErrInvalidPolicy, t.Suspicious, t.Authentic))
	}
	if len(errs) == 0 && total <= 0 {
		errs = append(errs, ErrZeroWeight)
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy %q: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

var presets = map[string]Policy{
	WideBand: {
		Name: WideBand,
		Weights: map[verification.Metric]float64{
			verification.MetricChecksum: 0.20,
			verification.MetricLayout:   0.10,
			verification.MetricText:     0.20,
			verification.MetricCopyMove: 0.20,
			verification.MetricMetadata: 0.15,
			verification.MetricELA:      0.15,
		},
		Thresholds: Thresholds{Authentic: 0.70, Suspicious: 0.40},
	},
	NarrowBand: {
		Name: NarrowBand,
		Weights: map[verification.Metric]float64{
			verification.MetricChecksum: 0.15,
			verification.MetricLayout:   0.20,
			verification.MetricText:     0.20,
			verification.MetricCopyMove: 0.15,
			verification.MetricMetadata: 0.15,
			verification.MetricELA:      0.15,
		},
		Thresholds: Thresholds{Authentic: 0.70, Suspicious: 0.65},
	},
}

// Preset returns a copy of a built-in policy.
func Preset(name string) (Policy, error) {
	p, ok := presets[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	p.Weights = lo.Assign(p.Weights)
	return p, nil
}

// PresetNames lists the built-in policies in sorted order.
func PresetNames() []string {
	names := lo.Keys(presets)
	sort.Strings(names)
	return names
}

type policyFile struct {
	Policies map[string]struct {
		Weights    map[string]float64 `toml:"weights"`
		Thresholds Thresholds         `toml:"thresholds"`
	} `toml:"policies"`
}

// ParsePolicies decodes a TOML document of named policies:
//
//	[policies.strict.weights]
//	checksum = 0.3
//	text = 0.3
//	ela = 0.4
//
//	[policies.strict.thresholds]
//	authentic = 0.8
//	suspicious = 0.5
func ParsePolicies(data []byte) (map[string]Policy, error) {
	var file policyFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidPolicy, err)
	}
	out := make(map[string]Policy, len(file.Policies))
	for name, raw := range file.Policies {
		weights := lo.MapKeys(raw.Weights, func(_ float64, k string) verification.Metric {
			return verification.Metric(k)
		})
		p, err := NewPolicy(name, weights, raw.Thresholds)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// LoadPolicies reads ParsePolicies input from path.
func LoadPolicies(path string) (map[string]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// Resolve finds name among the policies in path, if given, and then among the presets.
func Resolve(name, path string) (Policy, error) {
	if name == "" {
		return Policy{}, fmt.Errorf("%w: no policy selected", ErrUnknownPolicy)
	}
	if path != "" {
		custom, err := LoadPolicies(path)
		if err != nil {
			return Policy{}, err
		}
		if p, ok := custom[name]; ok {
			return p, nil
		}
	}
	return Preset(name)
}
