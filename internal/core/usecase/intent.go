package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

const (
	intentAcceptThreshold    = 0.55
	intentSecondaryThreshold = 0.45
)

// IntentRule maps a trigger-term set to an intent. Rules are evaluated in
// file order; the first rule with a matching trigger wins.
type IntentRule struct {
	Intent   domain.Intent `yaml:"intent"`
	Triggers []string      `yaml:"triggers"`
}

// IntentPair is an allow-listed combination for multi-intent output.
type IntentPair struct {
	First  domain.Intent `yaml:"first"`
	Second domain.Intent `yaml:"second"`
}

// ClassifierRules is the on-disk rule table. The same file carries per-intent
// fusion overrides so that retrieval tuning lives in one place.
type ClassifierRules struct {
	Rules           []IntentRule                     `yaml:"rules"`
	AllowedPairs    []IntentPair                     `yaml:"allowed_pairs"`
	FusionOverrides map[domain.Intent]FusionOverride `yaml:"fusion_overrides"`
}

// LoadClassifierRules reads the YAML rule table, falling back to the built-in
// defaults when path is empty.
func LoadClassifierRules(path string) (ClassifierRules, error) {
	if path == "" {
		return DefaultClassifierRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ClassifierRules{}, fmt.Errorf("read intent rules: %w", err)
	}
	var rules ClassifierRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ClassifierRules{}, fmt.Errorf("parse intent rules: %w", err)
	}
	if len(rules.Rules) == 0 {
		rules.Rules = DefaultClassifierRules().Rules
	}
	return rules, nil
}

func DefaultClassifierRules() ClassifierRules {
	return ClassifierRules{
		Rules: []IntentRule{
			{Intent: domain.IntentSafety, Triggers: []string{
				"adverse", "adverse event", "side effect", "side effects", "toxicity",
				"safety", "tolerability", "contraindication",
			}},
			{Intent: domain.IntentOutcome, Triggers: []string{
				"hazard ratio", "odds ratio", "mortality", "survival", "efficacy",
				"endpoint", "outcome", "response rate", "relative risk",
			}},
			{Intent: domain.IntentDosage, Triggers: []string{
				"dose", "dosage", "dosing", "mg", "titration", "maximum dose",
			}},
			{Intent: domain.IntentEligibility, Triggers: []string{
				"eligibility", "inclusion", "exclusion", "enrolled", "eligible",
			}},
			{Intent: domain.IntentInteraction, Triggers: []string{
				"interaction", "coadministration", "combined with", "concomitant",
			}},
		},
		AllowedPairs: []IntentPair{
			{First: domain.IntentOutcome, Second: domain.IntentSafety},
			{First: domain.IntentSafety, Second: domain.IntentOutcome},
			{First: domain.IntentDosage, Second: domain.IntentSafety},
			{First: domain.IntentSafety, Second: domain.IntentDosage},
		},
	}
}

// IntentClassifier assigns retrieval intents: a deterministic rule pass first,
// a pluggable statistical scorer as fallback. Output is never empty.
type IntentClassifier struct {
	rules        []IntentRule
	allowedPairs map[IntentPair]bool
	scorer       ports.IntentScorer
}

func NewIntentClassifier(rules ClassifierRules, scorer ports.IntentScorer) *IntentClassifier {
	pairs := make(map[IntentPair]bool, len(rules.AllowedPairs))
	for _, p := range rules.AllowedPairs {
		pairs[p] = true
	}
	return &IntentClassifier{
		rules:        rules.Rules,
		allowedPairs: pairs,
		scorer:       scorer,
	}
}

func (c *IntentClassifier) Classify(ctx context.Context, canonical string) []domain.IntentGuess {
	padded := " " + canonical + " "
	for _, rule := range c.rules {
		for _, trigger := range rule.Triggers {
			if strings.Contains(padded, " "+trigger+" ") {
				return []domain.IntentGuess{{Intent: rule.Intent, Confidence: 1.0}}
			}
		}
	}

	if c.scorer != nil {
		guesses, err := c.scorer.Score(ctx, canonical)
		if err != nil {
			slog.Warn("intent_scorer_failed", "error", err)
		} else if len(guesses) > 0 && guesses[0].Confidence >= intentAcceptThreshold {
			out := []domain.IntentGuess{guesses[0]}
			if len(guesses) > 1 && guesses[1].Confidence >= intentSecondaryThreshold {
				pair := IntentPair{First: guesses[0].Intent, Second: guesses[1].Intent}
				if c.allowedPairs[pair] {
					out = append(out, guesses[1])
				}
			}
			return out
		}
	}

	return []domain.IntentGuess{{Intent: domain.IntentGeneral, Confidence: 1.0}}
}

// LinearIntentScorer is the default statistical fallback: a linear model over
// token-presence features with a softmax over per-intent sums. Weights are
// injectable so a trained model can replace the hand-tuned defaults.
type LinearIntentScorer struct {
	weights map[domain.Intent]map[string]float64
	bias    map[domain.Intent]float64
}

func NewLinearIntentScorer(weights map[domain.Intent]map[string]float64, bias map[domain.Intent]float64) *LinearIntentScorer {
	if weights == nil {
		weights = defaultIntentWeights()
	}
	if bias == nil {
		bias = map[domain.Intent]float64{domain.IntentGeneral: 0.4}
	}
	return &LinearIntentScorer{weights: weights, bias: bias}
}

func (s *LinearIntentScorer) Score(_ context.Context, canonical string) ([]domain.IntentGuess, error) {
	tokens := map[string]bool{}
	for _, tok := range strings.Fields(canonical) {
		tokens[tok] = true
	}

	type scored struct {
		intent domain.Intent
		logit  float64
	}
	logits := make([]scored, 0, len(s.weights)+1)
	intents := map[domain.Intent]bool{domain.IntentGeneral: true}
	for intent := range s.weights {
		intents[intent] = true
	}
	for intent := range intents {
		logit := s.bias[intent]
		for tok, w := range s.weights[intent] {
			if tokens[tok] {
				logit += w
			}
		}
		logits = append(logits, scored{intent: intent, logit: logit})
	}

	var sum float64
	for _, l := range logits {
		sum += math.Exp(l.logit)
	}
	guesses := make([]domain.IntentGuess, 0, len(logits))
	for _, l := range logits {
		guesses = append(guesses, domain.IntentGuess{
			Intent:     l.intent,
			Confidence: math.Exp(l.logit) / sum,
		})
	}
	sortGuesses(guesses)
	return guesses, nil
}

func sortGuesses(guesses []domain.IntentGuess) {
	for i := 1; i < len(guesses); i++ {
		for j := i; j > 0; j-- {
			if guesses[j].Confidence > guesses[j-1].Confidence ||
				(guesses[j].Confidence == guesses[j-1].Confidence && guesses[j].Intent < guesses[j-1].Intent) {
				guesses[j], guesses[j-1] = guesses[j-1], guesses[j]
			}
		}
	}
}

func defaultIntentWeights() map[domain.Intent]map[string]float64 {
	return map[domain.Intent]map[string]float64{
		domain.IntentOutcome: {
			"reduce": 1.2, "improve": 1.2, "effect": 1.0, "benefit": 1.1,
			"versus": 0.8, "compared": 0.8, "rate": 0.6,
		},
		domain.IntentSafety: {
			"risk": 1.3, "harm": 1.4, "bleeding": 1.2, "discontinuation": 1.1,
			"serious": 0.9, "warning": 1.2,
		},
		domain.IntentDosage: {
			"daily": 1.1, "twice": 1.0, "renal": 0.8, "adjustment": 1.2,
		},
		domain.IntentEligibility: {
			"criteria": 1.3, "patients": 0.5, "age": 0.7, "enrollment": 1.2,
		},
	}
}
