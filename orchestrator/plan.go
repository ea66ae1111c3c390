package orchestrator

import (
	"fmt"
	"sort"

	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/types"
)

// StepStatus represents the lifecycle status of a plan step.
//
// Transitions are monotonic: pending → running → {completed, failed},
// with failed → pending only through an explicit retry adaptation and
// {pending, failed} → skipped as the terminal degradation.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status is final for scheduling purposes.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepSkipped
}

// PlanStep is one scheduled unit of work for a single task type.
type PlanStep struct {
	ID               string             `json:"id"`
	TaskType         types.TaskType     `json:"task_type"`
	DependsOn        []types.TaskType   `json:"depends_on,omitempty"`
	Status           StepStatus         `json:"status"`
	ResultKey        string             `json:"result_key"`
	LastError        string             `json:"last_error,omitempty"`
	Retries          int                `json:"retries"`
	TimeoutClass     types.TimeoutClass `json:"timeout_class"`
	RequiresApproval bool               `json:"requires_approval"`
}

// Clone returns a copy of the step.
func (p *PlanStep) Clone() *PlanStep {
	c := *p
	c.DependsOn = append([]types.TaskType(nil), p.DependsOn...)
	return &c
}

// Plan is a dependency-ordered list of steps. Step order is a valid
// topological order of the dependency graph at expansion time.
type Plan struct {
	Steps []*PlanStep `json:"steps"`
}

// Clone deep-copies the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := &Plan{Steps: make([]*PlanStep, len(p.Steps))}
	for i, s := range p.Steps {
		c.Steps[i] = s.Clone()
	}
	return c
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (*PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// StepByTask returns the step for a task type.
func (p *Plan) StepByTask(t types.TaskType) (*PlanStep, bool) {
	for _, s := range p.Steps {
		if s.TaskType == t {
			return s, true
		}
	}
	return nil, false
}

// stepID derives the deterministic step identifier for a task type.
// One step per task type per run, so the id doubles as the result key.
func stepID(t types.TaskType) string {
	return "step_" + string(t)
}

// ExpandPlan builds the dependency-ordered plan for a requested task
// set. Missing dependencies are added transitively and de-duplicated.
// Unknown task types and dependency cycles fail with a VALIDATION
// error; a cycle is reported, never silently broken.
func ExpandPlan(requested []types.TaskType, table config.TaskTable) (*Plan, error) {
	if len(requested) == 0 {
		return nil, types.NewError(types.ErrValidation, "no task types requested")
	}

	// Transitive closure over the dependency table.
	closure := make(map[types.TaskType]bool)
	queue := append([]types.TaskType(nil), requested...)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if closure[t] {
			continue
		}
		spec, ok := table.Spec(t)
		if !ok {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("unknown task type: %s", t)).WithTaskType(t)
		}
		closure[t] = true
		queue = append(queue, spec.DependsOn...)
	}

	order, err := topoSort(closure, table)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Steps: make([]*PlanStep, 0, len(order))}
	for _, t := range order {
		spec, _ := table.Spec(t)
		timeoutClass := spec.TimeoutClass
		if timeoutClass == "" {
			timeoutClass = types.TimeoutStandard
		}
		plan.Steps = append(plan.Steps, &PlanStep{
			ID:               stepID(t),
			TaskType:         t,
			DependsOn:        append([]types.TaskType(nil), spec.DependsOn...),
			Status:           StepPending,
			ResultKey:        string(t),
			TimeoutClass:     timeoutClass,
			RequiresApproval: spec.RequiresApproval,
		})
	}
	return plan, nil
}

// ReplanInsert inserts additional task types into an existing plan,
// re-running dependency expansion. Steps already present keep their
// status and retry counts.
func ReplanInsert(plan *Plan, add []types.TaskType, table config.TaskTable) (*Plan, error) {
	requested := make([]types.TaskType, 0, len(plan.Steps)+len(add))
	for _, s := range plan.Steps {
		requested = append(requested, s.TaskType)
	}
	requested = append(requested, add...)

	expanded, err := ExpandPlan(requested, table)
	if err != nil {
		return nil, err
	}

	// Carry over status from the existing plan.
	for _, s := range expanded.Steps {
		if prev, ok := plan.StepByTask(s.TaskType); ok {
			s.Status = prev.Status
			s.LastError = prev.LastError
			s.Retries = prev.Retries
		}
	}
	return expanded, nil
}

// topoSort orders the closure topologically (Kahn's algorithm) over
// dependency edges restricted to the closure. Deterministic output:
// ties are broken alphabetically. A nonempty remainder means a cycle.
func topoSort(closure map[types.TaskType]bool, table config.TaskTable) ([]types.TaskType, error) {
	indegree := make(map[types.TaskType]int, len(closure))
	dependents := make(map[types.TaskType][]types.TaskType, len(closure))
	for t := range closure {
		spec, _ := table.Spec(t)
		for _, dep := range spec.DependsOn {
			if !closure[dep] {
				continue
			}
			indegree[t]++
			dependents[dep] = append(dependents[dep], t)
		}
	}

	ready := make([]types.TaskType, 0, len(closure))
	for t := range closure {
		if indegree[t] == 0 {
			ready = append(ready, t)
		}
	}
	sortTaskTypes(ready)

	order := make([]types.TaskType, 0, len(closure))
	for len(ready) > 0 {
		t := ready[0]
		ready = ready[1:]
		order = append(order, t)

		next := make([]types.TaskType, 0)
		for _, d := range dependents[t] {
			indegree[d]--
			if indegree[d] == 0 {
				next = append(next, d)
			}
		}
		sortTaskTypes(next)
		ready = append(ready, next...)
	}

	if len(order) != len(closure) {
		remaining := make([]string, 0)
		for t := range closure {
			if indegree[t] > 0 {
				remaining = append(remaining, string(t))
			}
		}
		sort.Strings(remaining)
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("dependency cycle detected among tasks: %v", remaining))
	}
	return order, nil
}

func sortTaskTypes(ts []types.TaskType) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
