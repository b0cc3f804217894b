package sheet

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// CycleError reports cells that refer to each other in a loop.
type CycleError struct {
	// Path starts and ends with the same cell.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("sheet: reference cycle %s", strings.Join(e.Path, " -> "))
}

// checkCycles rejects a set of expressions whose references form a cycle.
// References to names outside the set are ignored.
func checkCycles(exprs map[string]hcl.Expression) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(exprs))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			return &CycleError{Path: cycle}
		}

		state[name] = visiting
		path = append(path, name)
		for _, dep := range references(exprs[name]) {
			if _, ok := exprs[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	// Sorted so the reported cycle is deterministic.
	for _, name := range slices.Sorted(maps.Keys(exprs)) {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
