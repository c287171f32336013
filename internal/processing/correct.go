package processing

import (
	"strings"

	"agrolens-go/internal/types"
)

// Rule relabels a raw classifier label using colour evidence. Match is pure:
// it sees only the original lower-cased label and the dominant colour.
type Rule struct {
	Name     string
	Label    string
	Corrects bool
	Match    func(label string, dominant types.Dominant) bool
}

// DefaultRules is the produce correction table. Order is significant: every
// rule is checked against the original label and the last match wins the
// display label, while the correction flag accumulates across all matches.
var DefaultRules = []Rule{
	{
		Name:     "red-fruit-to-tomato",
		Label:    "Tomato",
		Corrects: true,
		Match:    whenColor(types.Red, "orange", "apple", "pomegranate", "peach", "apricot"),
	},
	{
		Name:     "green-squash-to-cucumber",
		Label:    "Cucumber",
		Corrects: true,
		Match:    whenColor(types.Green, "zucchini", "squash", "banana", "corn"),
	},
	{
		Name:     "green-brassica-to-leafy-greens",
		Label:    "Leafy Greens",
		Corrects: true,
		Match:    whenColor(types.Green, "cabbage", "broccoli"),
	},
	{
		Name:  "pepper-simplify",
		Label: "Pepper",
		Match: anyColor("pepper"),
	},
}

type Corrector struct {
	rules []Rule
}

func NewCorrector(rules []Rule) *Corrector {
	if rules == nil {
		rules = DefaultRules
	}
	return &Corrector{rules: rules}
}

func (c *Corrector) Correct(pred types.RawPrediction, sample types.ColorSample) types.CorrectedResult {
	raw := pred.PrimaryLabel()
	result := types.CorrectedResult{
		DisplayLabel: raw,
		RawLabel:     raw,
		Confidence:   pred.Confidence,
	}
	if raw == "" {
		return result
	}

	label := strings.ToLower(raw)
	for _, rule := range c.rules {
		if rule.Match == nil || !rule.Match(label, sample.Dominant) {
			continue
		}
		result.DisplayLabel = rule.Label
		result.RuleApplied = rule.Name
		result.WasCorrected = result.WasCorrected || rule.Corrects
	}
	return result
}

func whenColor(want types.Dominant, keywords ...string) func(string, types.Dominant) bool {
	return func(label string, dominant types.Dominant) bool {
		return dominant == want && containsAny(label, keywords)
	}
}

func anyColor(keywords ...string) func(string, types.Dominant) bool {
	return func(label string, _ types.Dominant) bool {
		return containsAny(label, keywords)
	}
}

func containsAny(label string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(label, k) {
			return true
		}
	}
	return false
}
