// Package grkb provides the obligation knowledge base: read-only queries for
// the regulatory obligations and template constraints that apply to a case's
// jurisdictions and report kind.
package grkb

import (
	"context"
	"errors"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrUnknownJurisdiction is returned when a query names a jurisdiction
	// the knowledge base has no rules for.
	ErrUnknownJurisdiction = errors.New("grkb: unknown jurisdiction")
	// ErrBadDocument is returned when a knowledge base document fails to load.
	ErrBadDocument = errors.New("grkb: invalid knowledge base document")
)

// Source is the read-only query contract against the knowledge base.
type Source interface {
	// ObligationsFor returns the obligations applicable to the given
	// jurisdictions and report kind, in stable id order.
	ObligationsFor(ctx context.Context, jurisdictions []string, reportKind string) ([]contracts.Obligation, error)
	// ConstraintsFor returns the template constraints for the given
	// jurisdictions and report kind, in stable id order.
	ConstraintsFor(ctx context.Context, jurisdictions []string, reportKind string) ([]contracts.Constraint, error)
}
