package repository

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rancher/repo-resolver/pkg/checksum"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

func TestAggregateRepositoriesDominantWinsOnCollision(t *testing.T) {
	dominant := []Remote{{ID: "central", URL: "https://dominant.example"}}
	recessive := []Remote{{ID: "central", URL: "https://recessive.example"}}

	out := AggregateRepositories(nil, nil, dominant, recessive, false)
	want := []Remote{{ID: "central", URL: "https://dominant.example"}}
	if diff := cmp.Diff(want, out, cmp.AllowUnexported(updatecheck.Policy{})); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestAggregateRepositoriesAppendsNewEntries(t *testing.T) {
	dominant := []Remote{{ID: "central"}}
	recessive := []Remote{{ID: "snapshots"}}

	out := AggregateRepositories(nil, nil, dominant, recessive, false)
	want := []Remote{{ID: "central"}, {ID: "snapshots"}}
	if diff := cmp.Diff(want, out, cmp.AllowUnexported(updatecheck.Policy{})); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestMergeMirrorsAppendsNewSubRepositories(t *testing.T) {
	dominant := Remote{ID: "proxy", Mirrored: []Remote{{ID: "central"}}}
	recessive := Remote{ID: "proxy", Mirrored: []Remote{{ID: "central"}, {ID: "jcenter"}}}

	merged := MergeMirrors(dominant, recessive)
	want := Remote{ID: "proxy", Mirrored: []Remote{{ID: "central"}, {ID: "jcenter"}}}
	if diff := cmp.Diff(want, merged, cmp.AllowUnexported(updatecheck.Policy{})); diff != "" {
		t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
	}
}

func TestMergePolicyBothEnabledPicksStricterAndMoreFrequent(t *testing.T) {
	a := Policy{Enabled: true, ChecksumLevel: checksum.Warn, UpdatePolicy: updatecheck.Parse("daily")}
	b := Policy{Enabled: true, ChecksumLevel: checksum.Fail, UpdatePolicy: updatecheck.Parse("interval:10")}

	merged := MergePolicy(a, b)
	if merged.ChecksumLevel != checksum.Fail {
		t.Fatalf("expected stricter checksum policy (fail), got %v", merged.ChecksumLevel)
	}
	if merged.UpdatePolicy.String() != "interval:10" {
		t.Fatalf("expected more-frequent update policy, got %v", merged.UpdatePolicy)
	}
}

func TestMergePolicyOnlyOneEnabled(t *testing.T) {
	a := Policy{Enabled: false}
	b := Policy{Enabled: true, ChecksumLevel: checksum.Warn}
	if got := MergePolicy(a, b); !got.Enabled {
		t.Fatal("expected the enabled policy to win")
	}
}
