// Package fingerprint computes source-file fingerprints and decides whether a
// file is new content for a collection or a copy of a record already there.
package fingerprint

import (
	"context"
	"log/slog"

	"intake/internal/fileutil"
	"intake/internal/logging"
	"intake/internal/services"
	"intake/internal/sink"
)

// Compute returns the lowercase hex SHA-256 of the file at path.
func Compute(path string) (string, error) {
	fp, err := fileutil.HashFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrFingerprint, "fingerprint", "compute",
			"hash source file", err)
	}
	return fp, nil
}

// Lookup finds an existing record by fingerprint within a collection.
type Lookup interface {
	FindByFingerprint(ctx context.Context, fp string, coll sink.Collection) (*sink.Record, error)
}

// Action is the resolver's verdict.
type Action int

const (
	ActionImport Action = iota
	ActionReplicate
)

func (a Action) String() string {
	if a == ActionReplicate {
		return "replicate"
	}
	return "import"
}

// Decision carries the action and, for replicate, the matched record.
type Decision struct {
	Action Action
	Match  *sink.Record
}

// Resolver decides import versus replicate.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver constructs a resolver backed by lookup.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{lookup: lookup, logger: logging.NewComponentLogger(logger, "dedup")}
}

// Resolve never fails: a lookup error is logged and treated as no match, so
// the worst case is a duplicate record rather than a lost file.
func (r *Resolver) Resolve(ctx context.Context, fp string, coll sink.Collection) Decision {
	if r == nil || r.lookup == nil || fp == "" {
		return Decision{Action: ActionImport}
	}
	match, err := r.lookup.FindByFingerprint(ctx, fp, coll)
	if err != nil {
		wrapped := services.Wrap(services.ErrSinkLookup, "dedup", "find by fingerprint",
			"lookup failed; importing as new content", err)
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "fingerprint lookup failed", "dedup_lookup_failed",
			logging.String(logging.FieldErrorHint, "check the library database"),
			logging.String(logging.FieldImpact, "file will be imported even if a copy exists"),
			logging.String("collection", coll.Name),
			logging.Error(wrapped),
		)
		return Decision{Action: ActionImport}
	}
	if match == nil {
		return Decision{Action: ActionImport}
	}
	r.logger.Debug("fingerprint matched existing record",
		logging.String("collection", coll.Name),
		logging.String("record_uuid", match.UUID),
		logging.String("fingerprint", fp),
	)
	return Decision{Action: ActionReplicate, Match: match}
}
