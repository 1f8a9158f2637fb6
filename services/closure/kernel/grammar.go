// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel provides the grammar-driven edge composition kernel.
//
// A Grammar holds binary productions over edge labels. A production
// c ::= a b lets the kernel derive v -c-> w from v -a-> u and u -b-> w.
// With the single production e ::= e e the kernel computes transitive
// closure; richer grammars express context-free reachability problems
// such as points-to or dataflow analyses.
package kernel

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxGrammarFileSize bounds grammar files read by LoadGrammar.
const MaxGrammarFileSize = 1024 * 1024

//go:embed default_grammar.yaml
var defaultGrammarYAML []byte

// Sentinel errors for grammars.
var (
	// ErrInvalidGrammar is returned for a grammar file that does not parse
	// or validate.
	ErrInvalidGrammar = errors.New("invalid grammar")

	// ErrUnknownLabel is returned for a rule naming an undeclared label.
	ErrUnknownLabel = errors.New("unknown label")
)

// Rule is the production Result ::= Left Right.
type Rule struct {
	Left   byte
	Right  byte
	Result byte
}

func (r Rule) String() string {
	return fmt.Sprintf("%d ::= %d %d", r.Result, r.Left, r.Right)
}

// Grammar maps label pairs to the labels they derive.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Grammar struct {
	rules   []Rule
	derive  map[uint16][]byte
	names   map[string]byte
	byValue map[byte]string
}

// NewGrammar builds a grammar from rules. Duplicate rules are ignored.
func NewGrammar(rules ...Rule) *Grammar {
	g := &Grammar{
		derive:  make(map[uint16][]byte),
		names:   make(map[string]byte),
		byValue: make(map[byte]string),
	}
	seen := make(map[Rule]bool, len(rules))
	for _, r := range rules {
		if seen[r] {
			continue
		}
		seen[r] = true
		g.rules = append(g.rules, r)
		key := pairKey(r.Left, r.Right)
		g.derive[key] = append(g.derive[key], r.Result)
	}
	return g
}

// Transitive returns the grammar label ::= label label.
func Transitive(label byte) *Grammar {
	return NewGrammar(Rule{Left: label, Right: label, Result: label})
}

func pairKey(a, b byte) uint16 {
	return uint16(a)<<8 | uint16(b)
}

// Derive returns the labels derived from an a-edge followed by a b-edge.
// The result must not be modified.
func (g *Grammar) Derive(a, b byte) []byte {
	return g.derive[pairKey(a, b)]
}

// Rules returns the productions in declaration order.
func (g *Grammar) Rules() []Rule {
	return append([]Rule(nil), g.rules...)
}

// RuleLabels returns the number of distinct labels used by the rules.
func (g *Grammar) RuleLabels() int {
	seen := make(map[byte]struct{})
	for _, r := range g.rules {
		seen[r.Left] = struct{}{}
		seen[r.Right] = struct{}{}
		seen[r.Result] = struct{}{}
	}
	return len(seen)
}

// Label returns the value of a named label.
func (g *Grammar) Label(name string) (byte, bool) {
	v, ok := g.names[name]
	return v, ok
}

// LabelName returns the name of a label value, or its decimal form.
func (g *Grammar) LabelName(v byte) string {
	if name, ok := g.byValue[v]; ok {
		return name
	}
	return fmt.Sprintf("%d", v)
}

// Labels returns the declared label names, sorted.
func (g *Grammar) Labels() []string {
	out := make([]string, 0, len(g.names))
	for name := range g.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// grammarFile is the YAML form of a grammar.
type grammarFile struct {
	Labels map[string]int `yaml:"labels" validate:"required,min=1,dive,keys,required,endkeys,min=0,max=255"`
	Rules  []ruleFile     `yaml:"rules" validate:"required,min=1,dive"`
}

type ruleFile struct {
	Result string `yaml:"result" validate:"required"`
	Left   string `yaml:"left" validate:"required"`
	Right  string `yaml:"right" validate:"required"`
}

var grammarValidate = validator.New()

// LoadGrammar reads a grammar file. An empty path loads the built-in
// transitive closure grammar.
func LoadGrammar(path string) (*Grammar, error) {
	if path == "" {
		return ParseGrammar(defaultGrammarYAML)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat grammar: %w", err)
	}
	if info.Size() > MaxGrammarFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidGrammar, path, info.Size(), MaxGrammarFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grammar: %w", err)
	}
	return ParseGrammar(data)
}

// ParseGrammar parses the YAML form:
//
//	labels:
//	  a: 1
//	  n: 2
//	rules:
//	  - {result: n, left: n, right: a}
func ParseGrammar(data []byte) (*Grammar, error) {
	var f grammarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrammar, err)
	}
	if err := grammarValidate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrammar, err)
	}

	names := make(map[string]byte, len(f.Labels))
	byValue := make(map[byte]string, len(f.Labels))
	for name, v := range f.Labels {
		b := byte(v)
		if other, dup := byValue[b]; dup {
			return nil, fmt.Errorf("%w: labels %q and %q share value %d", ErrInvalidGrammar, other, name, v)
		}
		names[name] = b
		byValue[b] = name
	}

	lookup := func(name string) (byte, error) {
		v, ok := names[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
		}
		return v, nil
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, rf := range f.Rules {
		var r Rule
		var err error
		if r.Result, err = lookup(rf.Result); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Left, err = lookup(rf.Left); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Right, err = lookup(rf.Right); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}

	g := NewGrammar(rules...)
	g.names = names
	g.byValue = byValue
	return g, nil
}
