package dresscode

import "sort"

// Verdict is the complete output of one pipeline run.
type Verdict struct {
	Gender       Gender                       `json:"gender"`
	GenderLabel  string                       `json:"genderLabel"`
	Features     map[FeatureKey]FeatureResult `json:"features"`
	PassAll      bool                         `json:"passAll"`
	StoppedEarly bool                         `json:"stoppedEarly"`
}

// failurePriority ranks feature keys for the single-failure report.
var failurePriority = map[FeatureKey]int{
	FeatureOuter:  0,
	FeatureBelt:   1,
	FeatureTie:    2,
	FeatureShoe:   3,
	FeaturePin:    4,
	FeatureEar:    5,
	FeatureButton: 6,
}

func newVerdict(g Gender, label string, features map[FeatureKey]FeatureResult, stopped bool) *Verdict {
	return &Verdict{
		Gender:       g,
		GenderLabel:  label,
		Features:     features,
		PassAll:      !stopped && allPass(features),
		StoppedEarly: stopped,
	}
}

func allPass(features map[FeatureKey]FeatureResult) bool {
	if len(features) == 0 {
		return false
	}
	for _, f := range features {
		if !f.Pass {
			return false
		}
	}
	return true
}

// FailureMessage renders the Thai description of a failed feature.
func FailureMessage(g Gender, key FeatureKey) string {
	suffix := "หญิง"
	if g == Male {
		suffix = "ชาย"
	}
	switch key {
	case FeatureOuter:
		return "ใส่ชุดนอก" + suffix
	case FeatureTie:
		return "ไม่มีเนคไท" + suffix
	case FeatureBelt:
		return "ไม่มีเข็มขัด" + suffix
	case FeaturePin:
		return "ไม่มีเข็มกลัด"
	case FeatureEar:
		return "ไม่มีต่างหู"
	case FeatureButton:
		return "ไม่ติดกระดุม"
	case FeatureShoe:
		return "ไม่ใส่รองเท้าตามระเบียบ" + suffix
	default:
		return "ไม่ผ่าน"
	}
}

// FailedFeatures lists the failing keys of v in reporting order.
func FailedFeatures(v *Verdict) []FeatureKey {
	if v == nil {
		return nil
	}
	var keys []FeatureKey
	for _, key := range canonicalOrder {
		if f, ok := v.Features[key]; ok && !f.Pass {
			keys = append(keys, key)
		}
	}
	return keys
}

// ExtractFailures describes every failed feature of v. With onlyHighest set,
// only the highest-priority failure is reported.
func ExtractFailures(v *Verdict, onlyHighest bool) []string {
	keys := FailedFeatures(v)
	if len(keys) == 0 {
		return []string{}
	}
	if onlyHighest {
		sort.SliceStable(keys, func(i, j int) bool {
			return failurePriority[keys[i]] < failurePriority[keys[j]]
		})
		keys = keys[:1]
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, FailureMessage(v.Gender, key))
	}
	return out
}
