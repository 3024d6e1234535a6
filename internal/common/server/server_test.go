package server

import (
	"context"
	"errors"
	"testing"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
)

func TestRunHooks_RunsAllInOrder(t *testing.T) {
	var order []string
	hooks := []ShutdownHook{
		{Name: "hub", Fn: func(context.Context) error { order = append(order, "hub"); return nil }},
		{Name: "processor", Fn: func(context.Context) error { order = append(order, "processor"); return errors.New("stuck") }},
		{Name: "pool", Fn: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected hook context to carry a deadline")
			}
			order = append(order, "pool")
			return nil
		}},
	}

	RunHooks(context.Background(), logger.NewDiscard(), "hub", hooks)

	want := []string{"hub", "processor", "pool"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("hook %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}
