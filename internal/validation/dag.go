// Package validation checks dependency graphs for plan steps and tool calls.
package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Node is the minimal information needed for cycle detection
type Node struct {
	ID           string
	Dependencies []string
}

// CycleDetectionResult contains the result of cycle detection
type CycleDetectionResult struct {
	HasCycle     bool
	CyclePath    []string   // IDs involved in the cycle (if found)
	Levels       [][]string // Nodes grouped by dependency depth (if no cycle)
	ErrorMessage string
}

// DetectCycles runs Kahn's algorithm layer by layer. Each level holds nodes
// whose dependencies all sit in earlier levels; order inside a level follows
// input order so results are reproducible.
func DetectCycles(nodes []Node) CycleDetectionResult {
	if len(nodes) == 0 {
		return CycleDetectionResult{Levels: [][]string{}}
	}

	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n.ID] = i
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] += 0
		for _, dep := range n.Dependencies {
			// Self and unknown dependencies are reported by ValidateReferences
			if dep == n.ID {
				continue
			}
			if _, ok := position[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], n.ID)
			inDegree[n.ID]++
		}
	}

	var current []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			current = append(current, n.ID)
		}
	}

	levels := [][]string{}
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)
		var next []string
		for _, id := range current {
			for _, d := range dependents[id] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		current = next
	}

	if processed == len(nodes) {
		return CycleDetectionResult{Levels: levels}
	}

	var cycleNodes []string
	for _, n := range nodes {
		if inDegree[n.ID] > 0 {
			cycleNodes = append(cycleNodes, n.ID)
		}
	}
	path := findCyclePath(dependents, cycleNodes)
	return CycleDetectionResult{
		HasCycle:     true,
		CyclePath:    path,
		ErrorMessage: fmt.Sprintf("circular dependency detected involving: %s", strings.Join(path, " -> ")),
	}
}

// findCyclePath walks the residual graph to name one concrete cycle.
func findCyclePath(graph map[string][]string, cycleNodes []string) []string {
	inCycle := make(map[string]bool, len(cycleNodes))
	for _, n := range cycleNodes {
		inCycle[n] = true
	}

	var dfs func(node string, path []string, onPath map[string]bool) []string
	dfs = func(node string, path []string, onPath map[string]bool) []string {
		if onPath[node] {
			for i, n := range path {
				if n == node {
					return append(append([]string{}, path[i:]...), node)
				}
			}
		}
		onPath[node] = true
		path = append(path, node)
		for _, next := range graph[node] {
			if inCycle[next] {
				if c := dfs(next, path, onPath); c != nil {
					return c
				}
			}
		}
		delete(onPath, node)
		return nil
	}

	for _, start := range cycleNodes {
		if c := dfs(start, nil, map[string]bool{}); len(c) > 1 {
			return c
		}
	}
	return cycleNodes
}

// ValidateReferences rejects self and dangling dependencies.
func ValidateReferences(nodes []Node) error {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if known[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		known[n.ID] = true
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return fmt.Errorf("node %q depends on itself", n.ID)
			}
			if !known[dep] {
				return fmt.Errorf("node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}
	return nil
}

// ParallelGroups validates nodes and returns their dependency levels.
func ParallelGroups(nodes []Node) ([][]string, error) {
	if err := ValidateReferences(nodes); err != nil {
		return nil, err
	}
	res := DetectCycles(nodes)
	if res.HasCycle {
		return nil, fmt.Errorf("%s", res.ErrorMessage)
	}
	return res.Levels, nil
}

// PlanGroups computes the parallel groups for plan steps. Step indexes must
// equal their position in the slice.
func PlanGroups(steps []models.PlanStep) ([][]int, error) {
	nodes := make([]Node, len(steps))
	for i, s := range steps {
		if s.Index != i {
			return nil, fmt.Errorf("step at position %d has index %d", i, s.Index)
		}
		deps := make([]string, len(s.DependsOn))
		for j, d := range s.DependsOn {
			deps[j] = strconv.Itoa(d)
		}
		nodes[i] = Node{ID: strconv.Itoa(s.Index), Dependencies: deps}
	}
	levels, err := ParallelGroups(nodes)
	if err != nil {
		return nil, err
	}
	groups := make([][]int, len(levels))
	for i, level := range levels {
		groups[i] = make([]int, len(level))
		for j, id := range level {
			groups[i][j], _ = strconv.Atoi(id)
		}
	}
	return groups, nil
}

// ValidatePlan checks that every step appears in exactly one group and that
// its dependencies sit in strictly earlier groups.
func ValidatePlan(plan models.ExecutionPlan) error {
	groupOf := make(map[int]int, len(plan.Steps))
	for g, group := range plan.Groups {
		for _, idx := range group {
			if idx < 0 || idx >= len(plan.Steps) {
				return fmt.Errorf("group %d references unknown step %d", g, idx)
			}
			if _, dup := groupOf[idx]; dup {
				return fmt.Errorf("step %d appears in more than one group", idx)
			}
			groupOf[idx] = g
		}
	}
	for _, s := range plan.Steps {
		g, ok := groupOf[s.Index]
		if !ok {
			return fmt.Errorf("step %d is not scheduled in any group", s.Index)
		}
		for _, d := range s.DependsOn {
			dg, ok := groupOf[d]
			if !ok || dg >= g {
				return fmt.Errorf("step %d depends on step %d which is not in an earlier group", s.Index, d)
			}
		}
	}
	return nil
}
