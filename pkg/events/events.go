package events

import (
	"context"
	"log/slog"

	"github.com/rancher/repo-resolver/pkg/logger"
)

// Type names one of the events the core dispatches to external listeners
// (§6: "the core dispatches named events"). Values mirror the Maven
// RepositoryEvent.EventType enum this system's event surface is modeled on.
type Type string

const (
	ArtifactResolving         Type = "ARTIFACT_RESOLVING"
	ArtifactResolved          Type = "ARTIFACT_RESOLVED"
	ArtifactDownloading       Type = "ARTIFACT_DOWNLOADING"
	ArtifactDownloaded        Type = "ARTIFACT_DOWNLOADED"
	ArtifactInstalling        Type = "ARTIFACT_INSTALLING"
	ArtifactInstalled         Type = "ARTIFACT_INSTALLED"
	ArtifactDeploying         Type = "ARTIFACT_DEPLOYING"
	ArtifactDeployed          Type = "ARTIFACT_DEPLOYED"
	ArtifactDescriptorMissing Type = "ARTIFACT_DESCRIPTOR_MISSING"
	ArtifactDescriptorInvalid Type = "ARTIFACT_DESCRIPTOR_INVALID"

	MetadataResolving   Type = "METADATA_RESOLVING"
	MetadataResolved    Type = "METADATA_RESOLVED"
	MetadataDownloading Type = "METADATA_DOWNLOADING"
	MetadataDownloaded  Type = "METADATA_DOWNLOADED"
	MetadataInstalling  Type = "METADATA_INSTALLING"
	MetadataInstalled   Type = "METADATA_INSTALLED"
	MetadataDeploying   Type = "METADATA_DEPLOYING"
	MetadataDeployed    Type = "METADATA_DEPLOYED"
	MetadataInvalid     Type = "METADATA_INVALID"
)

// Event is the payload dispatched to listeners: trace, the artifact or
// metadata coordinate involved (as a string — the core stays decoupled from
// any one coordinate type here), the repository id if relevant, the local
// file if one was produced, and any exceptions encountered (§6: event
// payloads "carrying trace, artifact/metadata, repository, file, exception
// list").
type Event struct {
	Type         Type
	Trace        *RequestTrace
	Coordinate   string
	RepositoryID string
	File         string
	Exceptions   []error
}

// Listener receives dispatched events. Implementations are external
// collaborators (§1: "event listener surfaces" are out of scope for the
// core); the core only ever calls through this interface.
type Listener interface {
	OnEvent(ctx context.Context, e Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, e Event)

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Catapult is the small synchronous fan-out helper named in §4.6 ("a small
// event catapult helper"): it dispatches one Event to every registered
// Listener, catching and logging panics/errors so a misbehaving listener
// never propagates a failure back into the core (§6: "Dispatch failures
// never propagate back to the core").
type Catapult struct {
	listeners []Listener
}

// NewCatapult returns a Catapult with the given listeners registered.
func NewCatapult(listeners ...Listener) *Catapult {
	return &Catapult{listeners: listeners}
}

// Add registers an additional listener.
func (c *Catapult) Add(l Listener) {
	c.listeners = append(c.listeners, l)
}

// Dispatch fans e out to every registered listener in order, isolating the
// core from any listener panic or the absence of listeners entirely.
func (c *Catapult) Dispatch(ctx context.Context, e Event) {
	for _, l := range c.listeners {
		dispatchOne(ctx, l, e)
	}
}

func dispatchOne(ctx context.Context, l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log(ctx, slog.LevelWarn, "event listener panicked", slog.Any("recovered", r), slog.String("event", string(e.Type)))
		}
	}()
	l.OnEvent(ctx, e)
}
