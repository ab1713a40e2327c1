package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/task"
)

func TestDefaultTracerFallsBackToGlobalProvider(t *testing.T) {
	tracer := defaultTracer(Config{})
	require.NotNil(t, tracer)
}

func TestNilTaskSpanIsSafeToCall(t *testing.T) {
	var span *taskSpan
	span.setAttempt("p1", 1)
	span.end(errors.New("boom"))
	span.end(nil)
}

func TestStartTaskDispatchReturnsUsableSpan(t *testing.T) {
	e := &Engine{tracer: defaultTracer(Config{})}
	_, span := e.startTaskDispatch(context.Background(), &task.Task{ID: "t1", Name: "say-hi", WorkflowID: "w1", Protocol: "echo/v1", Method: "say"})
	require.NotNil(t, span)
	span.setAttempt("p1", 1)
	span.end(nil)
}
