// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kb provides a small closed-world knowledge base, a reasoner that
// answers instance queries over it, and a top-down refinement operator over
// its vocabulary.
//
// Knowledge bases are loaded from YAML:
//
//	name: family
//	classes:
//	  - name: Person
//	  - name: Male
//	    parents: [Person]
//	roles: [hasChild]
//	individuals:
//	  - name: alice
//	    types: [Female]
//	assertions:
//	  - {role: hasChild, subject: alice, object: bob}
//	positive: [alice]
//	negative: [bob]
package kb

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/AleutianAI/parcel/services/parcel/concept"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidKnowledgeBase is returned when a knowledge base file is inconsistent.
	ErrInvalidKnowledgeBase = errors.New("kb: invalid knowledge base")

	// ErrUnknownVocabulary is returned when an expression uses a class or role
	// the knowledge base does not declare.
	ErrUnknownVocabulary = errors.New("kb: unknown vocabulary")
)

// File is the YAML document layout.
type File struct {
	Name        string           `yaml:"name"`
	Classes     []ClassDecl      `yaml:"classes"`
	Roles       []string         `yaml:"roles"`
	Individuals []IndividualDecl `yaml:"individuals"`
	Assertions  []RoleAssertion  `yaml:"assertions"`
	Positive    []string         `yaml:"positive"`
	Negative    []string         `yaml:"negative"`
}

// ClassDecl declares a named class and its direct superclasses.
type ClassDecl struct {
	Name    string   `yaml:"name"`
	Parents []string `yaml:"parents"`
}

// IndividualDecl declares an individual and its asserted classes.
type IndividualDecl struct {
	Name  string   `yaml:"name"`
	Types []string `yaml:"types"`
}

// RoleAssertion states role(subject, object).
type RoleAssertion struct {
	Role    string `yaml:"role"`
	Subject string `yaml:"subject"`
	Object  string `yaml:"object"`
}

// Examples holds the positive and negative example individuals of a problem.
type Examples struct {
	Positives concept.IndividualSet
	Negatives concept.IndividualSet
}

// KnowledgeBase is an indexed, immutable view of a File.
//
// Thread Safety: Safe for concurrent reads after construction.
type KnowledgeBase struct {
	name        string
	individuals concept.IndividualSet
	parents     map[string][]string
	children    map[string][]string
	extensions  map[string]concept.IndividualSet
	roles       map[string]map[concept.Individual][]concept.Individual
}

// Load reads and indexes a knowledge base file.
//
// Inputs:
//   - path: Path to the YAML file.
//
// Outputs:
//   - *KnowledgeBase: The indexed knowledge base.
//   - Examples: The example sets declared in the file.
//   - error: Non-nil if the file cannot be read or is inconsistent.
func Load(path string) (*KnowledgeBase, Examples, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Examples{}, fmt.Errorf("read knowledge base: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, Examples{}, fmt.Errorf("parse knowledge base %s: %w", path, err)
	}
	return Build(f)
}

// Build indexes an in-memory File.
func Build(f File) (*KnowledgeBase, Examples, error) {
	kb := &KnowledgeBase{
		name:        f.Name,
		individuals: concept.NewIndividualSet(),
		parents:     make(map[string][]string),
		children:    make(map[string][]string),
		extensions:  make(map[string]concept.IndividualSet),
		roles:       make(map[string]map[concept.Individual][]concept.Individual),
	}

	for _, c := range f.Classes {
		if c.Name == "" {
			return nil, Examples{}, fmt.Errorf("%w: class without name", ErrInvalidKnowledgeBase)
		}
		if _, dup := kb.parents[c.Name]; dup {
			return nil, Examples{}, fmt.Errorf("%w: class %q declared twice", ErrInvalidKnowledgeBase, c.Name)
		}
		kb.parents[c.Name] = append([]string(nil), c.Parents...)
		kb.extensions[c.Name] = concept.NewIndividualSet()
	}
	for name, parents := range kb.parents {
		for _, p := range parents {
			if _, ok := kb.parents[p]; !ok {
				return nil, Examples{}, fmt.Errorf("%w: class %q has undeclared parent %q", ErrInvalidKnowledgeBase, name, p)
			}
			kb.children[p] = append(kb.children[p], name)
		}
	}
	for _, kids := range kb.children {
		sort.Strings(kids)
	}
	if err := kb.checkAcyclic(); err != nil {
		return nil, Examples{}, err
	}

	for _, r := range f.Roles {
		kb.roles[r] = make(map[concept.Individual][]concept.Individual)
	}

	for _, ind := range f.Individuals {
		id := concept.Individual(ind.Name)
		kb.individuals.Add(id)
		for _, t := range ind.Types {
			if _, ok := kb.parents[t]; !ok {
				return nil, Examples{}, fmt.Errorf("%w: individual %q has undeclared type %q", ErrInvalidKnowledgeBase, ind.Name, t)
			}
			for _, anc := range kb.ancestorsOf(t) {
				kb.extensions[anc].Add(id)
			}
		}
	}

	for _, a := range f.Assertions {
		succ, ok := kb.roles[a.Role]
		if !ok {
			return nil, Examples{}, fmt.Errorf("%w: assertion uses undeclared role %q", ErrInvalidKnowledgeBase, a.Role)
		}
		s, o := concept.Individual(a.Subject), concept.Individual(a.Object)
		if !kb.individuals.Contains(s) || !kb.individuals.Contains(o) {
			return nil, Examples{}, fmt.Errorf("%w: assertion %s(%s, %s) uses undeclared individual", ErrInvalidKnowledgeBase, a.Role, a.Subject, a.Object)
		}
		succ[s] = append(succ[s], o)
	}

	ex := Examples{
		Positives: concept.NewIndividualSet(),
		Negatives: concept.NewIndividualSet(),
	}
	for _, p := range f.Positive {
		if !kb.individuals.Contains(concept.Individual(p)) {
			return nil, Examples{}, fmt.Errorf("%w: positive example %q is not an individual", ErrInvalidKnowledgeBase, p)
		}
		ex.Positives.Add(concept.Individual(p))
	}
	for _, n := range f.Negative {
		if !kb.individuals.Contains(concept.Individual(n)) {
			return nil, Examples{}, fmt.Errorf("%w: negative example %q is not an individual", ErrInvalidKnowledgeBase, n)
		}
		ex.Negatives.Add(concept.Individual(n))
	}

	return kb, ex, nil
}

// ancestorsOf returns the class and all of its superclasses.
func (kb *KnowledgeBase) ancestorsOf(class string) []string {
	seen := map[string]bool{class: true}
	out := []string{class}
	for i := 0; i < len(out); i++ {
		for _, p := range kb.parents[out[i]] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func (kb *KnowledgeBase) checkAcyclic() error {
	const (
		unvisited = iota
		active
		finished
	)
	state := make(map[string]int, len(kb.parents))
	var visit func(c string) error
	visit = func(c string) error {
		switch state[c] {
		case active:
			return fmt.Errorf("%w: class hierarchy cycle through %q", ErrInvalidKnowledgeBase, c)
		case finished:
			return nil
		}
		state[c] = active
		for _, p := range kb.parents[c] {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[c] = finished
		return nil
	}
	for _, c := range kb.Classes() {
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the knowledge base name.
func (kb *KnowledgeBase) Name() string { return kb.name }

// Individuals returns every declared individual. The set must not be modified.
func (kb *KnowledgeBase) Individuals() concept.IndividualSet { return kb.individuals }

// Classes returns the declared class names in lexical order.
func (kb *KnowledgeBase) Classes() []string {
	out := make([]string, 0, len(kb.parents))
	for c := range kb.parents {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Roles returns the declared role names in lexical order.
func (kb *KnowledgeBase) Roles() []string {
	out := make([]string, 0, len(kb.roles))
	for r := range kb.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// TopClasses returns the classes without superclasses.
func (kb *KnowledgeBase) TopClasses() []string {
	var out []string
	for _, c := range kb.Classes() {
		if len(kb.parents[c]) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// LeafClasses returns the classes without subclasses.
func (kb *KnowledgeBase) LeafClasses() []string {
	var out []string
	for _, c := range kb.Classes() {
		if len(kb.children[c]) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// Subclasses returns the direct subclasses of a class.
func (kb *KnowledgeBase) Subclasses(class string) []string { return kb.children[class] }

// Superclasses returns the direct superclasses of a class.
func (kb *KnowledgeBase) Superclasses(class string) []string { return kb.parents[class] }

// HasClass reports whether the class is declared.
func (kb *KnowledgeBase) HasClass(class string) bool {
	_, ok := kb.parents[class]
	return ok
}

// HasRole reports whether the role is declared.
func (kb *KnowledgeBase) HasRole(role string) bool {
	_, ok := kb.roles[role]
	return ok
}
