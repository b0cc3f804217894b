// Package sheet is a spreadsheet on top of incr. A sheet is an HCL file of
// name = expression attributes; expressions refer to other cells by name and
// may call a small set of functions. Reading a cell recomputes only what
// changed since the last read.
//
//	price = 12.5
//	qty   = 4
//	total = price * qty
//	label = format("%d items", qty)
package sheet

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/pumped-fn/incr"
)

// ErrUnknownCell is returned for operations on a name that is not a cell.
var ErrUnknownCell = errors.New("sheet: unknown cell")

// functions available to every expression
var functions = map[string]function.Function{
	"abs":      stdlib.AbsoluteFunc,
	"ceil":     stdlib.CeilFunc,
	"floor":    stdlib.FloorFunc,
	"max":      stdlib.MaxFunc,
	"min":      stdlib.MinFunc,
	"int":      stdlib.IntFunc,
	"upper":    stdlib.UpperFunc,
	"lower":    stdlib.LowerFunc,
	"strlen":   stdlib.StrlenFunc,
	"format":   stdlib.FormatFunc,
	"join":     stdlib.JoinFunc,
	"concat":   stdlib.ConcatFunc,
	"length":   stdlib.LengthFunc,
	"coalesce": stdlib.CoalesceFunc,
}

// Sheet is a set of named cells. Like the runtime it is built on, it must
// be used from one goroutine at a time.
type Sheet struct {
	rt *incr.Runtime
	// layout holds the cell table. Adding or removing a cell replaces the
	// map, so every cell re-reads its references.
	layout *incr.Value[map[string]*cell]
}

type cell struct {
	name string
	src  string
	expr *incr.Value[hcl.Expression]
	out  *incr.Value[result]

	keyRuns     int
	evaluations int
}

// result is the outcome of evaluating a cell.
type result struct {
	val   cty.Value
	diags hcl.Diagnostics
}

func (r result) equal(o result) bool {
	if r.diags.HasErrors() || o.diags.HasErrors() {
		return r.diags.Error() == o.diags.Error()
	}
	return r.val.RawEquals(o.val)
}

// key is what a cell's value depends on: its expression and the results
// of the cells it references.
type key struct {
	expr   hcl.Expression
	inputs map[string]result
}

func keysEqual(a, b key) bool {
	if a.expr != b.expr || len(a.inputs) != len(b.inputs) {
		return false
	}
	for name, r := range a.inputs {
		o, ok := b.inputs[name]
		if !ok || !r.equal(o) {
			return false
		}
	}
	return true
}

// New creates an empty sheet.
func New(rt *incr.Runtime) *Sheet {
	return &Sheet{
		rt:     rt,
		layout: incr.Var(rt, map[string]*cell{}, incr.WithName("sheet.layout")),
	}
}

// Parse creates a sheet from HCL source.
func Parse(rt *incr.Runtime, src []byte, filename string) (*Sheet, error) {
	s := New(rt)
	if _, err := s.Apply(src, filename); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile creates a sheet from an HCL file.
func LoadFile(rt *incr.Runtime, path string) (*Sheet, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sheet: %w", err)
	}
	return Parse(rt, src, path)
}

// Runtime returns the runtime the sheet's cells live in.
func (s *Sheet) Runtime() *incr.Runtime {
	return s.rt
}

// Names returns the cell names in sorted order.
func (s *Sheet) Names() []string {
	return slices.Sorted(maps.Keys(s.cells()))
}

// Get returns the value of a cell. An expression that fails to evaluate
// yields its diagnostics as the error.
func (s *Sheet) Get(name string) (cty.Value, error) {
	c, ok := s.cells()[name]
	if !ok {
		return cty.NilVal, fmt.Errorf("%w %q", ErrUnknownCell, name)
	}
	r := c.out.Get()
	if r.diags.HasErrors() {
		return cty.NilVal, r.diags
	}
	return r.val, nil
}

// Source returns the expression text of a cell.
func (s *Sheet) Source(name string) (string, bool) {
	c, ok := s.cells()[name]
	if !ok {
		return "", false
	}
	return c.src, true
}

// Set replaces the expression of a cell, creating the cell if needed.
func (s *Sheet) Set(name, src string) error {
	if !hclsyntax.ValidIdentifier(name) {
		return fmt.Errorf("sheet: invalid cell name %q", name)
	}
	expr, diags := hclsyntax.ParseExpression([]byte(src), "<"+name+">", hcl.InitialPos)
	if diags.HasErrors() {
		return diags
	}

	exprs := s.expressions()
	exprs[name] = expr
	if err := checkCycles(exprs); err != nil {
		return err
	}

	s.put(name, strings.TrimSpace(src), expr)
	return nil
}

// Delete removes a cell. Cells referring to it fail on their next read.
func (s *Sheet) Delete(name string) error {
	cells := s.cells()
	if _, ok := cells[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownCell, name)
	}
	next := maps.Clone(cells)
	delete(next, name)
	s.layout.Set(next)
	return nil
}

// Apply updates the sheet to match src. Cells whose source text did not
// change keep their values; new cells are added and missing ones removed.
// It returns the names of the cells that were added, changed or removed.
func (s *Sheet) Apply(src []byte, filename string) ([]string, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	exprs := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprs[name] = attr.Expr
	}
	if err := checkCycles(exprs); err != nil {
		return nil, err
	}

	var changed []string
	cells := s.cells()
	for name, attr := range attrs {
		text := strings.TrimSpace(string(attr.Expr.Range().SliceBytes(src)))
		if c, ok := cells[name]; ok && c.src == text {
			continue
		}
		s.put(name, text, attr.Expr)
		changed = append(changed, name)
	}

	var removed []string
	for name := range cells {
		if _, ok := attrs[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		next := maps.Clone(s.cells())
		for _, name := range removed {
			delete(next, name)
		}
		s.layout.Set(next)
		changed = append(changed, removed...)
	}

	slices.Sort(changed)
	if len(changed) > 0 {
		s.rt.Logger().Debug("sheet applied", "file", filename, "changed", changed)
	}
	return changed, nil
}

// CellStats counts the work done for one cell.
type CellStats struct {
	Name string
	// KeyRuns is the number of times the cell's references were re-read.
	KeyRuns int
	// Evaluations is the number of times the expression was evaluated.
	Evaluations int
}

// Stats returns per-cell counters, sorted by name.
func (s *Sheet) Stats() []CellStats {
	cells := s.cells()
	stats := make([]CellStats, 0, len(cells))
	for _, name := range slices.Sorted(maps.Keys(cells)) {
		c := cells[name]
		stats = append(stats, CellStats{Name: name, KeyRuns: c.keyRuns, Evaluations: c.evaluations})
	}
	return stats
}

// Cell returns the engine node holding a cell's value, for graph export.
func (s *Sheet) Cell(name string) (incr.Node, bool) {
	c, ok := s.cells()[name]
	if !ok {
		return nil, false
	}
	return c.out, true
}

func (s *Sheet) cells() map[string]*cell {
	cells, _ := s.layout.Peek()
	return cells
}

func (s *Sheet) expressions() map[string]hcl.Expression {
	cells := s.cells()
	exprs := make(map[string]hcl.Expression, len(cells))
	for name, c := range cells {
		exprs[name], _ = c.expr.Peek()
	}
	return exprs
}

func (s *Sheet) put(name, src string, expr hcl.Expression) {
	if c, ok := s.cells()[name]; ok {
		c.src = src
		c.expr.Set(expr)
		return
	}

	c := &cell{name: name, src: src}
	c.expr = incr.Var(s.rt, expr, incr.WithName(name+".expr"))
	c.out = incr.MemoFunc(s.rt, func() key {
		return s.readKey(c)
	}, keysEqual, func(k key) result {
		c.evaluations++
		return evaluate(c.name, k)
	}, incr.WithName(name))

	next := maps.Clone(s.cells())
	next[name] = c
	s.layout.Set(next)
}

// readKey runs tracked: it reads the cell table, the cell's expression and
// every referenced cell.
func (s *Sheet) readKey(c *cell) key {
	c.keyRuns++
	cells := s.layout.Get()
	k := key{
		expr:   c.expr.Get(),
		inputs: make(map[string]result),
	}
	for _, name := range references(k.expr) {
		if dep, ok := cells[name]; ok {
			k.inputs[name] = dep.out.Get()
		}
	}
	return k
}

func evaluate(name string, k key) result {
	vars := make(map[string]cty.Value, len(k.inputs))
	for dep, r := range k.inputs {
		if r.diags.HasErrors() {
			subject := k.expr.Range()
			return result{
				val: cty.DynamicVal,
				diags: hcl.Diagnostics{{
					Severity: hcl.DiagError,
					Summary:  "Dependency failed",
					Detail:   fmt.Sprintf("Cell %q refers to %q, which failed to evaluate.", name, dep),
					Subject:  &subject,
				}},
			}
		}
		vars[dep] = r.val
	}

	val, diags := k.expr.Value(&hcl.EvalContext{
		Variables: vars,
		Functions: functions,
	})
	return result{val: val, diags: diags}
}

// references lists the root names an expression refers to.
func references(expr hcl.Expression) []string {
	var names []string
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
