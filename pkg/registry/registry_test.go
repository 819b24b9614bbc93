package registry

import (
	"math"
	"testing"

	"github.com/rancher/repo-resolver/pkg/session"
)

func TestRegistryOrdersByNominalPriority(t *testing.T) {
	r := New[string]("aether.priority.")
	r.Register("low", "pkg.Low", "LowFactory", 1)
	r.Register("high", "pkg.High", "HighFactory", 10)
	sess := session.New()
	got := r.All(sess)
	if got[0] != "high" || got[1] != "low" {
		t.Fatalf("expected high-priority component first, got %v", got)
	}
}

func TestRegistrySessionOverrideBySimpleName(t *testing.T) {
	r := New[string]("aether.priority.")
	r.Register("a", "pkg.A", "AFactory", 1)
	r.Register("b", "pkg.B", "BFactory", 2)
	sess := session.New()
	sess.Priorities["A"] = 100
	got := r.All(sess)
	if got[0] != "a" {
		t.Fatalf("expected session override to promote 'a', got %v", got)
	}
}

func TestRegistryDisabledByNaN(t *testing.T) {
	r := New[string]("aether.priority.")
	r.Register("a", "pkg.A", "AFactory", 1)
	r.Register("b", "pkg.B", "BFactory", 2)
	sess := session.New()
	sess.Priorities["A"] = math.NaN()

	enabled := r.Enabled(sess)
	if len(enabled) != 1 || enabled[0] != "b" {
		t.Fatalf("expected disabled component excluded from Enabled(), got %v", enabled)
	}
	all := r.All(sess)
	if len(all) != 2 || all[len(all)-1] != "a" {
		t.Fatalf("expected disabled component sorted last in All(), got %v", all)
	}
}

func TestRegistryImplicitPriorityUsesInsertionOrder(t *testing.T) {
	r := New[string]("aether.priority.")
	r.Register("first", "pkg.First", "FirstFactory", 1)
	r.Register("second", "pkg.Second", "SecondFactory", 1)
	sess := session.New()
	sess.ImplicitPriority = true
	got := r.All(sess)
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected insertion order with implicit priorities, got %v", got)
	}
}
