// Package scoring maps tracked events to engagement points and engagement
// points to a lead status.
package scoring

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is the scoring rule for one event name. SessionCap is the number of
// scored occurrences allowed per session; zero means uncapped.
type Rule struct {
	Weight     int  `yaml:"weight"`
	SessionCap int  `yaml:"session_cap"`
	Public     bool `yaml:"public"`
}

// Rules is the event→weight table. It is read-only after construction.
type Rules struct {
	table map[string]Rule
}

type rulesFile struct {
	Events map[string]Rule `yaml:"events"`
}

// DefaultRules returns the built-in table.
func DefaultRules() *Rules {
	return NewRules(map[string]Rule{
		"page_view":            {Weight: 1, SessionCap: 10, Public: true},
		"scroll_depth":         {Weight: 1, SessionCap: 3, Public: true},
		"tool_started":         {Weight: 2, SessionCap: 5, Public: true},
		"tool_completed":       {Weight: 5, SessionCap: 5, Public: true},
		"quiz_completed":       {Weight: 5, SessionCap: 3, Public: true},
		"calculator_completed": {Weight: 5, SessionCap: 3, Public: true},
		"dossier_open":         {Weight: 3, SessionCap: 3, Public: true},
		"guide_downloaded":     {Weight: 6, SessionCap: 2, Public: true},
		"video_played":         {Weight: 1, SessionCap: 3, Public: true},
		"chat_started":         {Weight: 4, SessionCap: 2, Public: true},
		"chat_message":         {Weight: 1, SessionCap: 5, Public: true},
		"phone_click":          {Weight: 8, SessionCap: 2, Public: true},
		"quote_scanned":        {Weight: 10, Public: true},
		"quote_uploaded":       {Weight: 12},
		"form_started":         {Weight: 2, SessionCap: 2, Public: true},
		"lead_captured":        {Weight: 10, SessionCap: 1},
		"consultation_booked":  {Weight: 20},
	})
}

// NewRules builds a table from the given rules. Names are normalized.
func NewRules(table map[string]Rule) *Rules {
	r := &Rules{table: make(map[string]Rule, len(table))}
	for name, rule := range table {
		r.table[Normalize(name)] = rule
	}
	return r
}

// LoadRules reads a YAML rules file of the form
//
//	events:
//	  quote_scanned: {weight: 10, public: true}
//	  dossier_open: {weight: 3, session_cap: 3, public: true}
func LoadRules(path string) (*Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(f.Events) == 0 {
		return nil, fmt.Errorf("rules file %s defines no events", path)
	}
	for name, rule := range f.Events {
		if rule.Weight < 0 {
			return nil, fmt.Errorf("event %q: negative weight %d", name, rule.Weight)
		}
		if rule.SessionCap < 0 {
			return nil, fmt.Errorf("event %q: negative session_cap %d", name, rule.SessionCap)
		}
	}
	return NewRules(f.Events), nil
}

func Normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Lookup returns the rule for an event name.
func (r *Rules) Lookup(name string) (Rule, bool) {
	rule, ok := r.table[Normalize(name)]
	return rule, ok
}

// Allowed reports whether the unauthenticated signal endpoint may record name.
func (r *Rules) Allowed(name string) bool {
	rule, ok := r.Lookup(name)
	return ok && rule.Public
}

// Delta is the number of points an occurrence earns given how many scored
// occurrences of the same event the session already has.
func (r Rule) Delta(priorInSession int) int {
	if r.SessionCap > 0 && priorInSession >= r.SessionCap {
		return 0
	}
	return r.Weight
}

// Len returns the number of known events.
func (r *Rules) Len() int { return len(r.table) }
