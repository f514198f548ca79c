// Package rules implements the phase-1 document-kind classifier: a
// precedence-ordered table of positive/negative keyword and regex rules.
// Rules are external data loaded once at worker start; the worker treats
// them opaquely.
package rules

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/majlabs/docflow/internal/model"
)

// Rule matches one document kind. Any entry is a case-insensitive regex;
// a rule fires when at least MinHits of its Any patterns match and none of
// its Not patterns do.
type Rule struct {
	Kind    string   `yaml:"kind"`
	Any     []string `yaml:"any"`
	Not     []string `yaml:"not,omitempty"`
	MinHits int      `yaml:"min_hits,omitempty"`
}

// Table is the serializable classifier definition. SenderNotifications
// lists sender patterns that classify the whole item as a system
// notification before any content rule runs. Rules are evaluated in table
// order; the first that fires wins.
type Table struct {
	SenderNotifications []string `yaml:"sender_notifications"`
	Rules               []Rule   `yaml:"rules"`
}

type compiledRule struct {
	kind    model.DocumentKind
	any     []*regexp.Regexp
	not     []*regexp.Regexp
	minHits int
}

// Classifier classifies item text by the compiled rule table.
type Classifier struct {
	senders []*regexp.Regexp
	rules   []compiledRule
}

// Verdict is the classifier's answer for one item.
type Verdict struct {
	Kind       model.DocumentKind
	Confidence float64
}

// Load reads a YAML rule table from path, or returns the built-in default
// table when path is empty.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Compile(DefaultTable())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read table %s", path)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, eris.Wrapf(err, "rules: parse table %s", path)
	}
	return Compile(table)
}

// Compile validates and compiles a rule table.
func Compile(table Table) (*Classifier, error) {
	c := &Classifier{}

	for _, pat := range table.SenderNotifications {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, eris.Wrapf(err, "rules: bad sender pattern %q", pat)
		}
		c.senders = append(c.senders, re)
	}

	for _, rule := range table.Rules {
		kind := model.ParseKind(rule.Kind)
		if kind == model.KindUnknown && rule.Kind != string(model.KindUnknown) {
			return nil, eris.Errorf("rules: unknown kind %q", rule.Kind)
		}
		cr := compiledRule{kind: kind, minHits: rule.MinHits}
		if cr.minHits <= 0 {
			cr.minHits = 1
		}
		for _, pat := range rule.Any {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				return nil, eris.Wrapf(err, "rules: bad pattern %q for kind %s", pat, rule.Kind)
			}
			cr.any = append(cr.any, re)
		}
		for _, pat := range rule.Not {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				return nil, eris.Wrapf(err, "rules: bad negative pattern %q for kind %s", pat, rule.Kind)
			}
			cr.not = append(cr.not, re)
		}
		c.rules = append(c.rules, cr)
	}

	return c, nil
}

// notificationConfidence is assigned to sender-matched system
// notifications; the sender pattern is authoritative.
const notificationConfidence = 0.99

// Classify assigns a kind to the item. Sender notification patterns win
// over every content rule; content rules are evaluated in table order and
// the first to fire wins. Items nothing matches come back as KindUnknown.
func (c *Classifier) Classify(sender, text string) Verdict {
	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, re := range c.senders {
		if re.MatchString(sender) {
			return Verdict{Kind: model.KindSystemNotification, Confidence: notificationConfidence}
		}
	}

	for _, rule := range c.rules {
		hits := 0
		for _, re := range rule.any {
			if re.MatchString(text) {
				hits++
			}
		}
		if hits < rule.minHits {
			continue
		}
		blocked := false
		for _, re := range rule.not {
			if re.MatchString(text) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		return Verdict{Kind: rule.kind, Confidence: ruleConfidence(hits, len(rule.any))}
	}

	return Verdict{Kind: model.KindUnknown}
}

// ruleConfidence grows with the fraction of patterns that matched, floored
// so a single-hit match still clears downstream thresholds.
func ruleConfidence(hits, total int) float64 {
	if total == 0 {
		return 0
	}
	conf := 0.6 + 0.4*float64(hits)/float64(total)
	if conf > 0.98 {
		conf = 0.98
	}
	return conf
}
