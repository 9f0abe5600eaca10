package dresscode

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Gender is the subject gender as decided by the gender classifier.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// FeatureKey names one regulated garment element.
type FeatureKey string

const (
	FeatureOuter  FeatureKey = "outer"
	FeatureTie    FeatureKey = "tie"
	FeatureBelt   FeatureKey = "belt"
	FeaturePin    FeatureKey = "pin"
	FeatureEar    FeatureKey = "ear"
	FeatureButton FeatureKey = "button"
	FeatureShoe   FeatureKey = "shoe"
)

// canonicalOrder is the reporting order of feature keys.
var canonicalOrder = []FeatureKey{
	FeatureOuter, FeatureTie, FeatureBelt, FeaturePin, FeatureEar, FeatureButton, FeatureShoe,
}

var requiredFeatures = map[Gender][]FeatureKey{
	Male:   {FeatureOuter, FeatureTie, FeatureBelt},
	Female: {FeatureOuter, FeatureBelt, FeaturePin, FeatureEar, FeatureButton},
}

// RegionMode selects between the full-frame and the split-region pipeline variants.
type RegionMode string

const (
	RegionModeDual   RegionMode = "dual"
	RegionModeSingle RegionMode = "single"
)

// DefaultOuterThreshold gates both outerwear and uniform detections.
const DefaultOuterThreshold = 0.50

// Rule is the declarative configuration of one feature.
// For the outer garment, Positive lists compliant uniform labels and
// Negative lists disqualifying outerwear labels.
type Rule struct {
	Region    Region   `yaml:"region"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	Positive  []string `yaml:"positive"`
	Negative  []string `yaml:"negative"`
}

// GenderRule configures the gender classifier.
type GenderRule struct {
	Model  string   `yaml:"model"`
	Male   []string `yaml:"male"`
	Female []string `yaml:"female"`
}

// GenderProfile carries the display label and the model per feature of one gender.
type GenderProfile struct {
	Label  string                `yaml:"label"`
	Models map[FeatureKey]string `yaml:"models"`
}

// Table is the validated feature configuration consumed by the pipeline.
type Table struct {
	RegionMode  RegionMode               `yaml:"region_mode"`
	ShoeEnabled bool                     `yaml:"shoe_enabled"`
	Gender      GenderRule               `yaml:"gender"`
	Features    map[FeatureKey]Rule      `yaml:"features"`
	Genders     map[Gender]GenderProfile `yaml:"genders"`
}

// DefaultTable returns the embedded rule set.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultRules)
}

// LoadTable reads a rule file, falling back to the embedded rules when path is empty.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML rule document.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if t.RegionMode == "" {
		t.RegionMode = RegionModeDual
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that every feature reachable for either gender is fully configured.
func (t *Table) Validate() error {
	var errs []error

	switch t.RegionMode {
	case RegionModeDual, RegionModeSingle:
	default:
		errs = append(errs, fmt.Errorf("region_mode %q is not one of dual, single", t.RegionMode))
	}

	if strings.TrimSpace(t.Gender.Model) == "" {
		errs = append(errs, errors.New("gender.model is required"))
	}
	if !hasKeyword(t.Gender.Male) {
		errs = append(errs, errors.New("gender.male keywords are empty"))
	}

	for _, g := range []Gender{Male, Female} {
		profile, ok := t.Genders[g]
		if !ok {
			errs = append(errs, fmt.Errorf("genders.%s is missing", g))
			continue
		}
		if strings.TrimSpace(profile.Label) == "" {
			errs = append(errs, fmt.Errorf("genders.%s.label is required", g))
		}
		for _, key := range t.RequiredFeatures(g) {
			if strings.TrimSpace(profile.Models[key]) == "" {
				errs = append(errs, fmt.Errorf("genders.%s.models.%s is required", g, key))
			}
			rule, ok := t.Features[key]
			if !ok {
				errs = append(errs, fmt.Errorf("features.%s is missing", key))
				continue
			}
			if err := rule.validate(key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r Rule) validate(key FeatureKey) error {
	var errs []error
	if !r.Region.valid() {
		errs = append(errs, fmt.Errorf("features.%s.region %q is not one of full, upper, lower", key, r.Region))
	}
	if !hasKeyword(r.Positive) {
		errs = append(errs, fmt.Errorf("features.%s.positive keywords are empty", key))
	}
	if !hasKeyword(r.Negative) {
		errs = append(errs, fmt.Errorf("features.%s.negative keywords are empty", key))
	}
	if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 1) {
		errs = append(errs, fmt.Errorf("features.%s.threshold %v is outside [0,1]", key, *r.Threshold))
	}
	return errors.Join(errs...)
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if Normalize(k) != "" {
			return true
		}
	}
	return false
}

// RequiredFeatures lists the feature keys evaluated for g, outer first.
func (t *Table) RequiredFeatures(g Gender) []FeatureKey {
	keys := append([]FeatureKey(nil), requiredFeatures[g]...)
	if t.ShoeEnabled {
		keys = append(keys, FeatureShoe)
	}
	return keys
}

// RegionFor returns the region fed to the classifier of key.
func (t *Table) RegionFor(key FeatureKey) Region {
	if t.RegionMode == RegionModeSingle {
		return RegionFull
	}
	return t.Features[key].Region
}

// ModelFor returns the model identifier of key for gender g.
func (t *Table) ModelFor(g Gender, key FeatureKey) string {
	return t.Genders[g].Models[key]
}

// Label returns the localized display label of g.
func (t *Table) Label(g Gender) string {
	return t.Genders[g].Label
}

func (t *Table) outerThreshold() float64 {
	if th := t.Features[FeatureOuter].Threshold; th != nil {
		return *th
	}
	return DefaultOuterThreshold
}
