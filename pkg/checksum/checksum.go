// Package checksum implements the Checksum Policy (§4.8): verifying a
// downloaded file against its declared checksums under one of three
// strictness levels, with a downgrade path for checksums obtained from an
// unofficial side-channel.
package checksum

import (
	"context"
	"log/slog"

	"sigs.k8s.io/release-utils/hash"

	"github.com/rancher/repo-resolver/pkg/logger"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
)

// Level orders the three checksum strictness variants: IGNORE(0) < WARN(1)
// < FAIL(2) (§4.8).
type Level int

const (
	Ignore Level = iota
	Warn
	Fail
)

func (l Level) String() string {
	switch l {
	case Ignore:
		return "ignore"
	case Warn:
		return "warn"
	default:
		return "fail"
	}
}

// Stricter returns the more restrictive of a and b, used by mergeMirrors
// (§4.5 "choose the stricter checksum policy").
func Stricter(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// Kind flags where a checksum came from. Unofficial marks a best-effort
// side-channel value (§4.8 "KIND_UNOFFICIAL"); a mismatch against an
// unofficial checksum is downgraded rather than treated as a hard failure.
type Kind int

const (
	Official Kind = iota
	Unofficial
)

// Algorithm names a supported digest algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Declared is one checksum value as published alongside an artifact.
type Declared struct {
	Algorithm Algorithm
	Value     string
	Kind      Kind
}

// Policy implements the §4.8 callback contract driving one download's
// checksum validation.
type Policy interface {
	OnChecksumMatch(ctx context.Context, algo Algorithm)
	OnChecksumMismatch(ctx context.Context, algo Algorithm, kind Kind) error
	OnChecksumError(ctx context.Context, algo Algorithm, kind Kind, err error) error
	OnNoMoreChecksums(ctx context.Context) error
	OnTransferChecksumFailure(ctx context.Context, err error) error
	OnTransferRetry(ctx context.Context)
}

// policy is the Level-parameterized Policy implementation shared by every
// Level; NewPolicy constructs it.
type policy struct {
	level Level
}

// NewPolicy returns the Policy implementation for level.
func NewPolicy(level Level) Policy { return &policy{level: level} }

func (p *policy) OnChecksumMatch(ctx context.Context, algo Algorithm) {
	logger.Log(ctx, slog.LevelDebug, "checksum matched", slog.String("algorithm", string(algo)))
}

func (p *policy) OnChecksumMismatch(ctx context.Context, algo Algorithm, kind Kind) error {
	effective := p.level
	if kind == Unofficial && effective == Fail {
		// §4.8: "on a mismatch with KIND_UNOFFICIAL, the failure is downgraded".
		effective = Warn
	}
	switch effective {
	case Ignore:
		return nil
	case Warn:
		logger.Log(ctx, slog.LevelWarn, "checksum mismatch", slog.String("algorithm", string(algo)))
		return nil
	default:
		return &resolveerr.ChecksumFailureError{Kind: algoKind(algo, kind)}
	}
}

func (p *policy) OnChecksumError(ctx context.Context, algo Algorithm, kind Kind, err error) error {
	if p.level == Ignore {
		return nil
	}
	logger.Log(ctx, slog.LevelWarn, "checksum validation error", slog.String("algorithm", string(algo)), logger.Err(err))
	if p.level == Fail {
		return err
	}
	return nil
}

func (p *policy) OnNoMoreChecksums(ctx context.Context) error {
	if p.level == Fail {
		return &resolveerr.ChecksumFailureError{Kind: "no checksums available"}
	}
	logger.Log(ctx, slog.LevelWarn, "no checksums available for transfer")
	return nil
}

func (p *policy) OnTransferChecksumFailure(ctx context.Context, err error) error {
	if p.level == Ignore {
		return nil
	}
	if p.level == Fail {
		return err
	}
	logger.Log(ctx, slog.LevelWarn, "transfer checksum failure", logger.Err(err))
	return nil
}

func (p *policy) OnTransferRetry(ctx context.Context) {
	logger.Log(ctx, slog.LevelDebug, "retrying transfer after checksum failure")
}

func algoKind(algo Algorithm, kind Kind) string {
	if kind == Unofficial {
		return string(algo) + " (unofficial)"
	}
	return string(algo)
}

// Compute returns the hex digest of the file at path under algo, grounded
// on sigs.k8s.io/release-utils/hash's file-digest helpers.
func Compute(path string, algo Algorithm) (string, error) {
	switch algo {
	case SHA512:
		return hash.SHA512ForFile(path)
	default:
		return hash.SHA256ForFile(path)
	}
}

// Validate computes the file's digest for each declared checksum and drives
// p's callbacks, returning the first error the policy surfaces.
func Validate(ctx context.Context, p Policy, path string, declared []Declared) error {
	if len(declared) == 0 {
		return p.OnNoMoreChecksums(ctx)
	}
	for _, d := range declared {
		actual, err := Compute(path, d.Algorithm)
		if err != nil {
			if cbErr := p.OnChecksumError(ctx, d.Algorithm, d.Kind, err); cbErr != nil {
				return cbErr
			}
			continue
		}
		if actual == d.Value {
			p.OnChecksumMatch(ctx, d.Algorithm)
			return nil
		}
		if err := p.OnChecksumMismatch(ctx, d.Algorithm, d.Kind); err != nil {
			return err
		}
	}
	return nil
}
