package engine

import (
	"context"
)

// Input carries everything an engine needs for one execution. Images are
// keyed by logical input name (e.g. source, reference); params are passed
// through to the workflow.
type Input struct {
	TaskID string
	Images map[string][]byte
	Params map[string]string
}

// Output is the classified result of one execution. Images maps result
// roles to URLs; the primary result lives under the "output" role.
type Output struct {
	Images   map[string]string
	Metadata map[string]interface{}
}

// OutputImage returns the primary result URL, "" when absent.
func (o *Output) OutputImage() string {
	if o == nil {
		return ""
	}
	return o.Images[RoleOutput]
}

// Result roles assigned during output classification.
const (
	RoleOutput     = "output"
	RoleComparison = "comparison"
)

// Engine executes a workflow against a generation backend.
type Engine interface {
	// Name returns the configured engine name
	Name() string

	// Type returns the backend type, e.g. runninghub
	Type() string

	// Execute runs the workflow to completion and classifies its outputs
	Execute(ctx context.Context, in *Input) (*Output, error)

	// HealthCheck probes the backend
	HealthCheck(ctx context.Context) error
}
