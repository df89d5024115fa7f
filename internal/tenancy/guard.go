// Package tenancy resolves resources through their ownership chain and checks
// that they belong to the calling organization. Every resource handler goes
// through Guard; nothing else compares organization ids.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
)

// Directory looks up configuration records by id. Missing records are
// reported with an error wrapping apperr.ErrNotFound.
type Directory interface {
	GetBuilding(ctx context.Context, id int64) (models.Building, error)
	GetUnit(ctx context.Context, id int64) (models.Unit, error)
	GetDataSource(ctx context.Context, id int64) (models.DataSource, error)
	GetAlertRule(ctx context.Context, id int64) (models.AlertRule, error)
	GetBaseline(ctx context.Context, id int64) (models.Baseline, error)
}

// Kind names a guarded resource type.
type Kind string

const (
	KindBuilding   Kind = "building"
	KindUnit       Kind = "unit"
	KindDataSource Kind = "data_source"
	KindAlertRule  Kind = "alert_rule"
	KindBaseline   Kind = "baseline"
)

// Ref identifies a resource to resolve.
type Ref struct {
	Kind Kind
	ID   int64
}

// Resource is a resolved resource with its place in the hierarchy.
type Resource struct {
	Ref
	OrganizationID int64
	BuildingID     int64
	UnitID         int64
	Value          any
}

// UnitScope is a unit together with the building that owns it.
type UnitScope struct {
	Unit     models.Unit
	Building models.Building
}

// OrganizationID is the tenant the unit belongs to.
func (s UnitScope) OrganizationID() int64 {
	return s.Building.OrganizationID
}

// Guard enforces tenant isolation over a Directory.
type Guard struct {
	dir       Directory
	forbidden bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithForbidden makes cross-tenant lookups fail with apperr.ErrForbidden.
// By default they fail with apperr.ErrNotFound, the same as a missing record.
func WithForbidden() Option {
	return func(g *Guard) { g.forbidden = true }
}

// NewGuard creates a guard over dir.
func NewGuard(dir Directory, opts ...Option) *Guard {
	g := &Guard{dir: dir}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Building resolves a building owned by orgID.
func (g *Guard) Building(ctx context.Context, id, orgID int64) (models.Building, error) {
	if err := checkCaller(orgID); err != nil {
		return models.Building{}, err
	}
	b, err := g.dir.GetBuilding(ctx, id)
	if err != nil {
		return models.Building{}, g.lookupFailed(KindBuilding, id, err)
	}
	if b.OrganizationID != orgID {
		return models.Building{}, g.deny(KindBuilding, id, orgID, b.OrganizationID)
	}
	return b, nil
}

// Unit resolves a unit and its building, both owned by orgID.
func (g *Guard) Unit(ctx context.Context, id, orgID int64) (UnitScope, error) {
	if err := checkCaller(orgID); err != nil {
		return UnitScope{}, err
	}
	return g.unit(ctx, KindUnit, id, id, orgID)
}

// unit walks unit -> building -> organization. kind and refID name the
// resource the caller originally asked for so denials are attributed to it.
func (g *Guard) unit(ctx context.Context, kind Kind, refID, unitID, orgID int64) (UnitScope, error) {
	u, err := g.dir.GetUnit(ctx, unitID)
	if err != nil {
		return UnitScope{}, g.lookupFailed(kind, refID, err)
	}
	b, err := g.dir.GetBuilding(ctx, u.BuildingID)
	if err != nil {
		return UnitScope{}, g.lookupFailed(kind, refID, err)
	}
	if b.OrganizationID != orgID {
		return UnitScope{}, g.deny(kind, refID, orgID, b.OrganizationID)
	}
	return UnitScope{Unit: u, Building: b}, nil
}

// DataSource resolves a data source through its unit.
func (g *Guard) DataSource(ctx context.Context, id, orgID int64) (models.DataSource, UnitScope, error) {
	if err := checkCaller(orgID); err != nil {
		return models.DataSource{}, UnitScope{}, err
	}
	ds, err := g.dir.GetDataSource(ctx, id)
	if err != nil {
		return models.DataSource{}, UnitScope{}, g.lookupFailed(KindDataSource, id, err)
	}
	scope, err := g.unit(ctx, KindDataSource, id, ds.UnitID, orgID)
	if err != nil {
		return models.DataSource{}, UnitScope{}, err
	}
	return ds, scope, nil
}

// AlertRule resolves an alert rule through its unit.
func (g *Guard) AlertRule(ctx context.Context, id, orgID int64) (models.AlertRule, UnitScope, error) {
	if err := checkCaller(orgID); err != nil {
		return models.AlertRule{}, UnitScope{}, err
	}
	r, err := g.dir.GetAlertRule(ctx, id)
	if err != nil {
		return models.AlertRule{}, UnitScope{}, g.lookupFailed(KindAlertRule, id, err)
	}
	scope, err := g.unit(ctx, KindAlertRule, id, r.UnitID, orgID)
	if err != nil {
		return models.AlertRule{}, UnitScope{}, err
	}
	return r, scope, nil
}

// Baseline resolves a baseline. Baselines hang off the organization directly
// and may additionally name a building or unit, which must resolve too.
func (g *Guard) Baseline(ctx context.Context, id, orgID int64) (models.Baseline, error) {
	if err := checkCaller(orgID); err != nil {
		return models.Baseline{}, err
	}
	bl, err := g.dir.GetBaseline(ctx, id)
	if err != nil {
		return models.Baseline{}, g.lookupFailed(KindBaseline, id, err)
	}
	if bl.OrganizationID != orgID {
		return models.Baseline{}, g.deny(KindBaseline, id, orgID, bl.OrganizationID)
	}
	if bl.UnitID != nil {
		if _, err := g.unit(ctx, KindBaseline, id, *bl.UnitID, orgID); err != nil {
			return models.Baseline{}, err
		}
	}
	if bl.BuildingID != nil {
		b, err := g.dir.GetBuilding(ctx, *bl.BuildingID)
		if err != nil {
			return models.Baseline{}, g.lookupFailed(KindBaseline, id, err)
		}
		if b.OrganizationID != orgID {
			return models.Baseline{}, g.deny(KindBaseline, id, orgID, b.OrganizationID)
		}
	}
	return bl, nil
}

// Resolve dispatches on ref.Kind.
func (g *Guard) Resolve(ctx context.Context, ref Ref, orgID int64) (Resource, error) {
	res := Resource{Ref: ref, OrganizationID: orgID}
	switch ref.Kind {
	case KindBuilding:
		b, err := g.Building(ctx, ref.ID, orgID)
		if err != nil {
			return Resource{}, err
		}
		res.BuildingID, res.Value = b.ID, b
	case KindUnit:
		s, err := g.Unit(ctx, ref.ID, orgID)
		if err != nil {
			return Resource{}, err
		}
		res.BuildingID, res.UnitID, res.Value = s.Building.ID, s.Unit.ID, s.Unit
	case KindDataSource:
		ds, s, err := g.DataSource(ctx, ref.ID, orgID)
		if err != nil {
			return Resource{}, err
		}
		res.BuildingID, res.UnitID, res.Value = s.Building.ID, s.Unit.ID, ds
	case KindAlertRule:
		r, s, err := g.AlertRule(ctx, ref.ID, orgID)
		if err != nil {
			return Resource{}, err
		}
		res.BuildingID, res.UnitID, res.Value = s.Building.ID, s.Unit.ID, r
	case KindBaseline:
		bl, err := g.Baseline(ctx, ref.ID, orgID)
		if err != nil {
			return Resource{}, err
		}
		if bl.BuildingID != nil {
			res.BuildingID = *bl.BuildingID
		}
		if bl.UnitID != nil {
			res.UnitID = *bl.UnitID
		}
		res.Value = bl
	default:
		return Resource{}, fmt.Errorf("unknown resource kind %q: %w", ref.Kind, apperr.ErrInvalidInput)
	}
	return res, nil
}

// Filters checks optional building and unit filters of a tenant query.
// A unit filter must also sit inside the building filter when both are set.
func (g *Guard) Filters(ctx context.Context, orgID int64, buildingID, unitID *int64) error {
	if err := checkCaller(orgID); err != nil {
		return err
	}
	if buildingID != nil {
		if _, err := g.Building(ctx, *buildingID, orgID); err != nil {
			return err
		}
	}
	if unitID != nil {
		scope, err := g.Unit(ctx, *unitID, orgID)
		if err != nil {
			return err
		}
		if buildingID != nil && scope.Building.ID != *buildingID {
			return fmt.Errorf("unit %d is not in building %d: %w", *unitID, *buildingID, apperr.ErrNotFound)
		}
	}
	return nil
}

func checkCaller(orgID int64) error {
	if orgID <= 0 {
		return apperr.ErrUnauthenticated
	}
	return nil
}

func (g *Guard) lookupFailed(kind Kind, id int64, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.TenancyDenialsTotal.WithLabelValues(string(kind), "missing").Inc()
		return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("resolve %s %d: %w", kind, id, err)
}

func (g *Guard) deny(kind Kind, id, callerOrg, ownerOrg int64) error {
	metrics.TenancyDenialsTotal.WithLabelValues(string(kind), "foreign").Inc()
	logger.WithComponent("tenancy").Warn().
		Str("kind", string(kind)).
		Int64("id", id).
		Int64("caller_org", callerOrg).
		Int64("owner_org", ownerOrg).
		Msg("cross-tenant access denied")

	if g.forbidden {
		return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrForbidden)
	}
	return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
}
