package internal

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type Execution struct {
	id int64
}

type executionKey struct{}

// GenerateExecution creates a new execution with a random numeric identifier.
func GenerateExecution() Execution {
	return Execution{id: rand.Int64N(1 << 32)}
}

// String returns the string representation of the execution, equivalent to calling ID().
func (e Execution) String() string {
	return string(e.ID())
}

// ID returns the execution identifier in the format "run-<hex>".
func (e Execution) ID() ExecutionID {
	return ExecutionID(fmt.Sprintf("run-%08x", e.id))
}

// Context returns a copy of ctx that carries the execution identifier.
func (e Execution) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, executionKey{}, e.ID())
}

// ExecutionIDFrom returns the identifier stored by Execution.Context, or ""
// when ctx carries none.
func ExecutionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(executionKey{}).(ExecutionID)
	return string(id)
}
