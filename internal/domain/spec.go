package domain

import "time"

// PlanSpec is the declarative input to the task graph builder: an ordered
// list of phases, each an ordered list of tasks.
type PlanSpec struct {
	// Title is the human-readable plan title.
	Title string `json:"title" validate:"required"`

	// MaxRetries overrides the engine default for every task (nil = default).
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0"`

	// Phases in declaration order.
	Phases []PhaseSpec `json:"phases" validate:"required,min=1,dive"`
}

// PhaseSpec declares one phase.
type PhaseSpec struct {
	Name  string     `json:"name" validate:"required"`
	Gate  string     `json:"gate,omitempty" validate:"omitempty,oneof=all_tasks_passed none"`
	Tasks []TaskSpec `json:"tasks" validate:"dive"`
}

// TaskSpec declares one task.
type TaskSpec struct {
	ID         string            `json:"id" validate:"required"`
	Role       string            `json:"role" validate:"required"`
	Title      string            `json:"title,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	Gates      []string          `json:"gates,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty" validate:"gte=0"`
	MaxRetries *int              `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
	Note       string            `json:"note,omitempty"`
}

// TaskCount returns the number of declared tasks.
func (s PlanSpec) TaskCount() int {
	n := 0
	for _, ph := range s.Phases {
		n += len(ph.Tasks)
	}
	return n
}
