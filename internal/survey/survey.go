// Package survey holds the health questionnaire and turns answers into at
// most three supplement suggestions.
package survey

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// MaxSuggestions caps every recommendation.
const MaxSuggestions = 3

const (
	KindSingle   = "single"
	KindMultiple = "multiple"
)

//go:embed bank.yaml
var bankYAML []byte

type Suggestion struct {
	Option      string   `yaml:"option" json:"option"`
	Supplements []string `yaml:"supplements" json:"supplements"`
}

type Question struct {
	ID          string       `yaml:"id" json:"id"`
	Text        string       `yaml:"text" json:"text"`
	Kind        string       `yaml:"kind" json:"kind"`
	Options     []string     `yaml:"options" json:"options"`
	Suggestions []Suggestion `yaml:"suggestions" json:"-"`
}

func (q Question) option(answer string) (string, bool) {
	for _, o := range q.Options {
		if strings.EqualFold(o, strings.TrimSpace(answer)) {
			return o, true
		}
	}
	return "", false
}

type Bank struct {
	Questions    []Question          `yaml:"questions"`
	GoalQuestion string              `yaml:"goal_question"`
	Goals        map[string][]string `yaml:"goals"`
	Fallback     []string            `yaml:"fallback"`
}

// Answers maps a question id to the selected options.
type Answers map[string][]string

// Resolver finds a supplement in the catalog by name. *catalog.Service
// satisfies it.
type Resolver interface {
	FindByName(ctx context.Context, name string) (catalog.Supplement, bool, error)
}

type Recommendation struct {
	Name       string              `json:"name"`
	Supplement *catalog.Supplement `json:"supplement,omitempty"`
}

// Load parses a question bank.
func Load(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse survey bank: %w", err)
	}
	seen := make(map[string]bool, len(b.Questions))
	for _, q := range b.Questions {
		if q.ID == "" || len(q.Options) == 0 {
			return nil, fmt.Errorf("survey bank: question %q needs an id and options", q.ID)
		}
		if q.Kind != KindSingle && q.Kind != KindMultiple {
			return nil, fmt.Errorf("survey bank: question %q has unknown kind %q", q.ID, q.Kind)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("survey bank: duplicate question %q", q.ID)
		}
		seen[q.ID] = true
	}
	if b.GoalQuestion != "" && !seen[b.GoalQuestion] {
		return nil, fmt.Errorf("survey bank: goal question %q is not defined", b.GoalQuestion)
	}
	return &b, nil
}

// Default returns the embedded question bank.
func Default() *Bank {
	b, err := Load(bankYAML)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Bank) question(id string) (Question, bool) {
	for _, q := range b.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Normalize validates answers against the bank and rewrites each selected
// option to its canonical spelling. Empty selections are dropped.
func (b *Bank) Normalize(answers Answers) (Answers, error) {
	out := make(Answers, len(answers))
	for id, selected := range answers {
		q, ok := b.question(id)
		if !ok {
			return nil, validation.Errorf("unknown question %q", id)
		}
		var picked []string
		for _, a := range selected {
			if strings.TrimSpace(a) == "" {
				continue
			}
			o, ok := q.option(a)
			if !ok {
				return nil, validation.Errorf("%s: unknown option %q", id, a)
			}
			if !slices.Contains(picked, o) {
				picked = append(picked, o)
			}
		}
		if len(picked) == 0 {
			continue
		}
		if q.Kind == KindSingle && len(picked) > 1 {
			return nil, validation.Errorf("%s: only one option may be selected", id)
		}
		out[id] = picked
	}
	return out, nil
}

// Recommend walks the questions in bank order collecting the supplements
// whose suggestion option appears in a selected answer, then adds the ones
// for the primary goal. Names the resolver cannot find are dropped, the
// list is cut to MaxSuggestions and topped up from the fallback list.
// With a nil resolver every name is accepted.
func (b *Bank) Recommend(ctx context.Context, answers Answers, r Resolver) ([]Recommendation, error) {
	var names []string
	add := func(list []string) {
		for _, n := range list {
			if !containsFold(names, n) {
				names = append(names, n)
			}
		}
	}

	for _, q := range b.Questions {
		selected := answers[q.ID]
		if len(selected) == 0 {
			continue
		}
		for _, s := range q.Suggestions {
			opt := strings.ToLower(s.Option)
			for _, a := range selected {
				if strings.Contains(strings.ToLower(a), opt) {
					add(s.Supplements)
					break
				}
			}
		}
	}

	if goal := answers[b.GoalQuestion]; b.GoalQuestion != "" && len(goal) > 0 {
		for _, g := range goal {
			for key, list := range b.Goals {
				if strings.EqualFold(key, strings.TrimSpace(g)) {
					add(list)
				}
			}
		}
	}

	out := make([]Recommendation, 0, MaxSuggestions)
	resolve := func(name string) (Recommendation, bool, error) {
		if r == nil {
			return Recommendation{Name: name}, true, nil
		}
		sp, ok, err := r.FindByName(ctx, name)
		if err != nil || !ok || !sp.Active {
			return Recommendation{}, false, err
		}
		return Recommendation{Name: sp.Name, Supplement: &sp}, true, nil
	}

	for _, n := range names {
		if len(out) == MaxSuggestions {
			break
		}
		rec, ok, err := resolve(n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	for _, n := range b.Fallback {
		if len(out) == MaxSuggestions {
			break
		}
		if hasName(out, n) {
			continue
		}
		rec, ok, err := resolve(n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasName(recs []Recommendation, name string) bool {
	for _, r := range recs {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

// Names returns the recommended supplement names.
func Names(recs []Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}
