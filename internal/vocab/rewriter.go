// Package vocab rewrites spoken vocabulary in voice transcripts before they
// are submitted as conversation turns.
package vocab

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultLoopLimit = 30

// Rule is one vocabulary substitution as written in the YAML file.
//
//	rules:
//	  - match: go high level
//	    replace: GoHighLevel
//	  - match: '\bdeal\s*flow\b'
//	    replace: deal flow
//	    regex: true
//	    global: true
type Rule struct {
	Match         string `yaml:"match"`
	Replace       string `yaml:"replace"`
	Regex         bool   `yaml:"regex"`
	Global        bool   `yaml:"global"`
	CaseSensitive bool   `yaml:"caseSensitive"`
}

// File is the top-level shape of a vocabulary file.
type File struct {
	LoopLimit int    `yaml:"loopLimit"`
	Rules     []Rule `yaml:"rules"`
}

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// Rewriter applies compiled rules until the text stops changing or the loop
// limit is reached.
type Rewriter struct {
	rules     []compiledRule
	loopLimit int
}

// Load reads a vocabulary file. An empty path or a missing file yields a
// rewriter that returns text unchanged.
func Load(path string) (*Rewriter, error) {
	if strings.TrimSpace(path) == "" {
		return &Rewriter{loopLimit: defaultLoopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Rewriter{loopLimit: defaultLoopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %q: %w", path, err)
	}

	rewriter, err := New(file)
	if err != nil {
		return nil, fmt.Errorf("vocabulary file %q: %w", path, err)
	}
	return rewriter, nil
}

// New compiles rules in file order.
func New(file File) (*Rewriter, error) {
	loopLimit := file.LoopLimit
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}

	rules := make([]compiledRule, 0, len(file.Rules))
	for index, rule := range file.Rules {
		compiled, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index+1, err)
		}
		rules = append(rules, compiled)
	}
	return &Rewriter{rules: rules, loopLimit: loopLimit}, nil
}

// Len reports how many rules are loaded.
func (r *Rewriter) Len() int {
	return len(r.rules)
}

// Apply transforms text deterministically.
func (r *Rewriter) Apply(text string) (string, error) {
	if len(r.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < r.loopLimit; i++ {
		changed := false
		for _, rule := range r.rules {
			next, ruleChanged := rule.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}

	return result, nil
}

func compileRule(rule Rule) (compiledRule, error) {
	if strings.TrimSpace(rule.Match) == "" {
		return nil, errors.New("match cannot be empty")
	}

	pattern := rule.Match
	if !rule.Regex {
		pattern = regexp.QuoteMeta(strings.TrimSpace(rule.Match))
	}
	if !rule.CaseSensitive {
		pattern = "(?i)" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid match %q: %w", rule.Match, err)
	}

	if !rule.Regex {
		return literalRule{re: re, replacement: rule.Replace}, nil
	}
	return regexRule{re: re, replacement: rule.Replace, global: rule.Global}, nil
}

type literalRule struct {
	replacement string
	re          *regexp.Regexp
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}

	var replaced []byte
	replaced = r.re.ExpandString(replaced, r.replacement, input, loc)
	output := input[:loc[0]] + string(replaced) + input[loc[1]:]
	return output, output != input
}
