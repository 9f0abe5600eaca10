package dresscode

import "github.com/example/dresscheck/internal/classifier"

// FeatureResult is the verdict for one garment feature.
type FeatureResult struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Pass        bool    `json:"pass"`
}

// OuterGarmentResult adds the short-circuit flag of the outer garment gate.
type OuterGarmentResult struct {
	FeatureResult
	ShouldStop bool `json:"shouldStop"`
}

// EvaluateAccessory decides a required accessory from the keyword tables alone
// unless the rule carries an explicit threshold.
func EvaluateAccessory(pred classifier.Prediction, rule Rule) FeatureResult {
	pass := PassIfHas(pred.Label, rule.Positive, rule.Negative)
	if pass && rule.Threshold != nil && pred.Probability < *rule.Threshold {
		pass = false
	}
	return FeatureResult{Label: pred.Label, Probability: pred.Probability, Pass: pass}
}

// EvaluateOuterGarment applies the outer garment gate. Confident outerwear
// stops the run; anything else, including an inconclusive label, passes.
func EvaluateOuterGarment(pred classifier.Prediction, rule Rule, threshold float64) OuterGarmentResult {
	res := OuterGarmentResult{
		FeatureResult: FeatureResult{Label: pred.Label, Probability: pred.Probability},
	}
	confident := pred.Probability >= threshold
	isOuterwear := confident && ContainsAny(pred.Label, rule.Negative)
	isUniform := confident && ContainsAny(pred.Label, rule.Positive)

	switch {
	case isOuterwear:
		res.Pass, res.ShouldStop = false, true
	case isUniform:
		res.Pass = true
	default:
		res.Pass = true
	}
	return res
}
