package engine

import (
	"fmt"
	"os"
)

// Filter is one named entry of a ruleset. Concrete filters carry the
// process attachment (pid and channel); chains carry the resolved leaf
// names in evaluation order.
type Filter struct {
	Name  string
	Pid   int
	Chan  *os.File
	Nodes []string
}

// Ruleset is a complete filter configuration as distributed by the
// parent. Entries keep their declaration order.
type Ruleset struct {
	order   []string
	filters map[string]*Filter
}

// NewRuleset creates an empty ruleset.
func NewRuleset() *Ruleset {
	return &Ruleset{filters: make(map[string]*Filter)}
}

// Attach records the process backing a concrete filter. The attachment
// arrives before the filter's declaration, so the entry is created on
// demand.
func (r *Ruleset) Attach(name string, pid int, ch *os.File) error {
	f := r.filters[name]
	if f == nil {
		f = &Filter{Name: name}
		r.filters[name] = f
	}
	if f.Chan != nil {
		return fmt.Errorf("filter %s: duplicate process attachment", name)
	}
	f.Pid = pid
	f.Chan = ch
	return nil
}

// Declare adds a filter to the ruleset order and returns its entry.
func (r *Ruleset) Declare(name string) (*Filter, error) {
	f := r.filters[name]
	if f == nil {
		f = &Filter{Name: name}
		r.filters[name] = f
	}
	for _, n := range r.order {
		if n == name {
			return nil, fmt.Errorf("filter %s: declared twice", name)
		}
	}
	r.order = append(r.order, name)
	return f, nil
}

// Lookup returns the entry for name, or nil.
func (r *Ruleset) Lookup(name string) *Filter {
	return r.filters[name]
}

// Names returns the declared filter names in order.
func (r *Ruleset) Names() []string {
	return r.order
}

// Close releases every filter channel. The processes behind them see
// peer-closed and exit on their own.
func (r *Ruleset) Close() {
	for _, f := range r.filters {
		if f.Chan != nil {
			f.Chan.Close()
			f.Chan = nil
		}
	}
}
