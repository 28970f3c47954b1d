// Package command turns parsed directives into calls on registered handlers.
//
// Three immutable pieces are built at startup and shared freely: a [Table] of
// definitions loaded from configuration, a [Registry] of handler functions,
// and an [Authorizer] (normally a permission resolver). A [Dispatcher] ties
// them together and contains every failure a directive can produce.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Param describes one positional directive parameter.
type Param struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Optional    bool   `yaml:"optional" json:"optional,omitempty"`
}

// Definition declares a directive.
type Definition struct {
	// Name is the directive name as it appears in text.
	Name string `yaml:"name" json:"name"`

	// Handler is the registry name of the handler. Empty means Name.
	Handler string `yaml:"handler" json:"handler"`

	// Permission is the permission group that grants this directive in
	// addition to any explicit group allow-list. Empty means none.
	Permission string `yaml:"permission" json:"permission,omitempty"`

	Params      []Param `yaml:"params" json:"params,omitempty"`
	Description string  `yaml:"description" json:"description,omitempty"`
}

// Usage renders the directive as the model should write it, e.g.
// {giveQuestItem:item,quantity}.
func (d Definition) Usage() string {
	if len(d.Params) == 0 {
		return "{" + d.Name + "}"
	}
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
		if p.Optional {
			names[i] += "?"
		}
	}
	return "{" + d.Name + ":" + strings.Join(names, ",") + "}"
}

// Table is the immutable set of known directives.
type Table struct {
	defs  map[string]Definition
	names []string
}

// NewTable validates defs and indexes them by name. Names must match the
// directive grammar and be unique.
func NewTable(defs []Definition) (*Table, error) {
	t := &Table{defs: make(map[string]Definition, len(defs))}
	var errs []error
	for i, d := range defs {
		if !validName.MatchString(d.Name) {
			errs = append(errs, fmt.Errorf("command: definitions[%d]: invalid name %q", i, d.Name))
			continue
		}
		if _, dup := t.defs[d.Name]; dup {
			errs = append(errs, fmt.Errorf("command: definitions[%d]: duplicate name %q", i, d.Name))
			continue
		}
		if d.Handler == "" {
			d.Handler = d.Name
		}
		d.Params = slices.Clone(d.Params)
		t.defs[d.Name] = d
		t.names = append(t.names, d.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.Sort(t.names)
	return t, nil
}

// Lookup returns the definition for name.
func (t *Table) Lookup(name string) (Definition, bool) {
	if t == nil {
		return Definition{}, false
	}
	d, ok := t.defs[name]
	return d, ok
}

// Has reports whether name is defined.
func (t *Table) Has(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Names returns every defined name, sorted.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.names)
}

// Definitions returns every definition sorted by name.
func (t *Table) Definitions() []Definition {
	if t == nil {
		return nil
	}
	out := make([]Definition, 0, len(t.names))
	for _, n := range t.names {
		out = append(out, t.defs[n])
	}
	return out
}
