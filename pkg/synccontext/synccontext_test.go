package synccontext

import (
	"context"
	"testing"
	"time"

	"github.com/rancher/repo-resolver/pkg/artifact"
)

func TestAcquireBlocksOverlappingCoordinates(t *testing.T) {
	l := New()
	a := artifact.New("g", "a", "jar", "", "1.0")

	first, err := l.Acquire(context.Background(), []artifact.Artifact{a}, nil)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := l.Acquire(context.Background(), []artifact.Artifact{a}, nil)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		second.Close()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while first holds the same coordinate")
	case <-time.After(50 * time.Millisecond):
	}

	first.Close()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after first releases")
	}
}

func TestCloseIsSafeWithoutAcquire(t *testing.T) {
	sc := &Context{locker: New()}
	sc.Close()
	sc.Close()
}

func TestAcquireDisjointCoordinatesDoNotBlock(t *testing.T) {
	l := New()
	a := artifact.New("g", "a", "jar", "", "1.0")
	b := artifact.New("g", "b", "jar", "", "1.0")

	first, err := l.Acquire(context.Background(), []artifact.Artifact{a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	done := make(chan struct{})
	go func() {
		second, err := l.Acquire(context.Background(), []artifact.Artifact{b}, nil)
		if err != nil {
			t.Error(err)
			return
		}
		second.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disjoint coordinates should not block each other")
	}
}
