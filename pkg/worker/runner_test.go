package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFunc_ImplementsWorker(t *testing.T) {
	var ran atomic.Int32
	f := Func{
		WorkerName: "purge",
		Fn: func(context.Context) error {
			ran.Add(1)
			return nil
		},
	}

	if f.Name() != "purge" {
		t.Errorf("Expected name purge, got %s", f.Name())
	}
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ran.Load() != 1 {
		t.Errorf("Expected 1 run, got %d", ran.Load())
	}
}

func TestGroup_RunsWorkerImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	g := NewGroup(ctx)
	g.Add(Func{
		WorkerName: "tick-once",
		Fn: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}, time.Hour)
	g.Start()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not run on start")
	}

	g.Stop(time.Second)
}
