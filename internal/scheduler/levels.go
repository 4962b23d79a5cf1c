package scheduler

import (
	"fmt"

	"github.com/shabbark/pocketpaw/internal/store"
)

// Levels assigns each task its Kahn topological level over blocked_by
// (spec §4.G "Level computation"): level 0 is every task with no
// blocked_by, level k is every task whose every blocked_by sits at a
// level below k, chosen minimal. Dispatch does not use the levels (it uses
// ReadySet); they are shown for display, and ValidateDependencyGraph calls
// Levels for its cycle and dangling-reference checks.
func Levels(tasks []store.Task) (map[string]int, error) {
	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on nonexistent task %s", t.ID, dep)
			}
		}
	}

	levels := make(map[string]int, len(tasks))
	placed := make(map[string]bool, len(tasks))

	for len(placed) < len(tasks) {
		progressed := false
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			maxDepLevel := -1
			canPlace := true
			for _, dep := range t.BlockedBy {
				if !placed[dep] {
					canPlace = false
					break
				}
				if levels[dep] > maxDepLevel {
					maxDepLevel = levels[dep]
				}
			}
			if !canPlace {
				continue
			}
			levels[t.ID] = maxDepLevel + 1
			placed[t.ID] = true
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("cycle detected in task dependencies")
		}
	}
	return levels, nil
}

// ValidateDependencyGraph checks the two invariants approval requires
// (spec §4.G "Validation"): acyclic, and every blocked_by id resolves to a
// task in the same project.
func ValidateDependencyGraph(tasks []store.Task) error {
	_, err := Levels(tasks)
	return err
}
