// Package pipeline implements the task graph engine: dataset registration,
// DAG resolution, run execution, scheduling, and backfill.
package pipeline

import (
	"context"
	"sync"

	"lakeflow/internal/domain"
)

// TaskFunc runs one attempt of a task. Attempts are synchronous, blocking
// operations; ctx carries the per-attempt timeout and is only consulted
// between operations, never used to interrupt mid-write.
type TaskFunc func(ctx context.Context, rc RunContext) error

// TaskDefinition declares one node of a dataset's task graph. Parameters are
// resolved from the interval at dispatch time via RunContext, never baked in.
type TaskDefinition struct {
	Name      string
	DependsOn []string
	Policy    domain.TaskPolicy
	Run       TaskFunc
}

// ResolveExecutionOrder computes a topological ordering of tasks using
// Kahn's algorithm. Returns levels of task names where each level can
// execute in parallel. Returns an error if cycles or unknown deps exist.
func ResolveExecutionOrder(tasks []TaskDefinition) ([][]string, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	known := make(map[string]struct{}, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string) // dep name → tasks that depend on it

	for _, t := range tasks {
		if _, dup := known[t.Name]; dup {
			return nil, domain.ErrValidation("duplicate task: %s", t.Name)
		}
		known[t.Name] = struct{}{}
		inDegree[t.Name] = 0
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := known[dep]; !ok {
				return nil, domain.ErrValidation("unknown dependency: %s", dep)
			}
			if dep == t.Name {
				return nil, domain.ErrValidation("self dependency: %s", t.Name)
			}
			dependents[dep] = append(dependents[dep], t.Name)
			inDegree[t.Name]++
		}
	}

	// Kahn's algorithm — process by levels.
	var levels [][]string
	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		levels = append(levels, level)
		processed += len(level)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(tasks) {
		return nil, domain.ErrValidation("cycle detected in task dependencies")
	}
	return levels, nil
}

// Registry holds the registered datasets and their validated task graphs,
// indexed by dataset name. Cycle detection happens at registration, not at
// trigger time.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]domain.Dataset
	tasks    map[string][]TaskDefinition
	levels   map[string][][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		datasets: make(map[string]domain.Dataset),
		tasks:    make(map[string][]TaskDefinition),
		levels:   make(map[string][][]string),
	}
}

// Register validates the dataset and its task graph and adds them to the
// registry. Registering an existing dataset name is a conflict.
func (r *Registry) Register(ds domain.Dataset, tasks []TaskDefinition) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return domain.ErrValidation("dataset %q has no tasks", ds.Name)
	}
	levels, err := ResolveExecutionOrder(tasks)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.datasets[ds.Name]; exists {
		return domain.ErrConflict("dataset %q already registered", ds.Name)
	}
	r.datasets[ds.Name] = ds
	r.tasks[ds.Name] = tasks
	r.levels[ds.Name] = levels
	return nil
}

// Lookup returns the dataset, its tasks, and its execution levels.
func (r *Registry) Lookup(name string) (domain.Dataset, []TaskDefinition, [][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasets[name]
	if !ok {
		return domain.Dataset{}, nil, nil, domain.ErrNotFound("dataset %q not registered", name)
	}
	return ds, r.tasks[name], r.levels[name], nil
}

// Datasets returns all registered datasets.
func (r *Registry) Datasets() []domain.Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Dataset, 0, len(r.datasets))
	for _, ds := range r.datasets {
		out = append(out, ds)
	}
	return out
}
