package events

import (
	"context"
	"errors"
	"testing"
)

func TestCatapultDispatchesToAllListeners(t *testing.T) {
	var got []Type
	c := NewCatapult(
		ListenerFunc(func(ctx context.Context, e Event) { got = append(got, e.Type) }),
		ListenerFunc(func(ctx context.Context, e Event) { got = append(got, e.Type) }),
	)
	c.Dispatch(context.Background(), Event{Type: ArtifactResolved})
	if len(got) != 2 || got[0] != ArtifactResolved || got[1] != ArtifactResolved {
		t.Fatalf("expected both listeners to observe the event, got %v", got)
	}
}

func TestCatapultSurvivesListenerPanic(t *testing.T) {
	var secondCalled bool
	c := NewCatapult(
		ListenerFunc(func(ctx context.Context, e Event) { panic("boom") }),
		ListenerFunc(func(ctx context.Context, e Event) { secondCalled = true }),
	)
	c.Dispatch(context.Background(), Event{Type: ArtifactDownloading, Exceptions: []error{errors.New("x")}})
	if !secondCalled {
		t.Fatal("a panicking listener must not prevent later listeners from running")
	}
}

func TestCatapultWithNoListeners(t *testing.T) {
	c := NewCatapult()
	c.Dispatch(context.Background(), Event{Type: MetadataInvalid})
}

func TestRequestTraceChainAndData(t *testing.T) {
	root := NewRequestTrace().WithData("reason", "root request")
	child := root.Child().WithData("reason", "transitive from X")

	if _, ok := root.Data("reason"); !ok {
		t.Fatal("root should carry its own data")
	}
	if v, _ := child.Data("reason"); v != "transitive from X" {
		t.Fatalf("child data = %v, want override", v)
	}
	chain := child.Chain()
	if len(chain) != 2 || chain[0].Parent() != nil || chain[1].Parent() != chain[0] {
		t.Fatalf("unexpected chain shape: %+v", chain)
	}
}
