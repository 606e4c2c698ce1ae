// Package tenant implements the Row-Level Tenant Guard (§4.8): a
// defense-in-depth safety net independent of the scope resolver. Every
// storage session binds a transaction-local "current org" value; the guard
// installs GORM callbacks that inject an org_id predicate on every
// tenant-scoped table. When no binding is present, reads, updates and
// deletes match zero rows rather than erroring, and creates fail with
// ErrNotBound. A scope-resolver bug
// that forgets to filter a query still can't leak across orgs.
package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// contextKey is an unexported type for context keys defined in this package,
// following the same collision-avoidance idiom as the API layer's
// request-scoped values.
type contextKey int

const (
	contextKeyRequest contextKey = iota
)

// boundOrgSetting is the GORM instance-setting key under which Bind stores
// the transaction-local current_org_id. It is session-scoped (via
// db.Set), so it never leaks across goroutines sharing the root *gorm.DB.
const boundOrgSetting = "tenant:current_org_id"

// tenantTables lists every table the guard protects. A table absent from
// this list is not tenant-scoped and passes through unfiltered.
var tenantTables = map[string]bool{
	"sessions":     true,
	"episodes":     true,
	"embeddings":   true,
	"memory_facts": true,
}

// RequestContext carries the authenticated caller's org across a request,
// replacing the ambient "current identity" a language-level context
// variable would otherwise provide.
type RequestContext struct {
	OrgID     uuid.UUID
	RequestID string
}

// WithRequestContext returns a context carrying rc.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, contextKeyRequest, rc)
}

// FromContext retrieves the RequestContext installed by WithRequestContext.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(contextKeyRequest).(RequestContext)
	return rc, ok
}

// Bind returns a session-scoped *gorm.DB with orgID set as the
// transaction-local current_org_id the guard callbacks check. Callers
// establish a binding once per transaction:
//
//	db.Transaction(func(tx *gorm.DB) error {
//	    tx = tenant.Bind(tx, rc.OrgID)
//	    ...
//	})
func Bind(db *gorm.DB, orgID uuid.UUID) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: false}).Set(boundOrgSetting, orgID)
}

// scopeOrg is the subset of scope.Scope this package needs — avoids an
// import of internal/scope so BindScope can be called from any package that
// already has a scope.Scope without creating a cycle.
type scopeOrg interface {
	OrgUUID() (uuid.UUID, error)
}

// BindScope binds db's current_org_id from sc.OrgUUID(). Every package
// whose queries are reached with a scope.Scope calls this once, at the
// *gorm.DB handle it is about to use, before the scope.ToPredicate
// query-shaping filters run.
func BindScope(db *gorm.DB, sc scopeOrg) (*gorm.DB, error) {
	orgID, err := sc.OrgUUID()
	if err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}
	return Bind(db, orgID), nil
}

// boundOrg reads the current_org_id bound on db, if any.
func boundOrg(db *gorm.DB) (uuid.UUID, bool) {
	v, ok := db.Get(boundOrgSetting)
	if !ok {
		return uuid.UUID{}, false
	}
	orgID, ok := v.(uuid.UUID)
	return orgID, ok
}

// ErrNotBound is returned (via the statement's error) when a row is created
// in a tenant-scoped table on a session with no current_org_id binding.
// Unbound reads, updates and deletes match zero rows instead.
var ErrNotBound = fmt.Errorf("tenant: no current_org_id bound — refusing tenant-scoped access")

// Register installs the guard's callbacks on db. Call once against the root
// *gorm.DB at startup; every session derived from it (including Bind's
// copies and transactions) inherits the callback chain.
func Register(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant:guard_query", guardRead); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenant:guard_row", guardRead); err != nil {
		return err
	}
	if err := db.Callback().Create().Before("gorm:create").Register("tenant:guard_create", guardWrite); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant:guard_update", guardFilter); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenant:guard_delete", guardFilter); err != nil {
		return err
	}
	return nil
}

// guardRead injects "org_id = ?" for reads. With no binding present it
// denies every row rather than erroring — the query still runs and returns
// zero rows, matching "a session without this binding sees no tenant-scoped
// rows" rather than surfacing a hard failure a caller might mishandle.
func guardRead(db *gorm.DB) {
	table := tableName(db)
	if !tenantTables[table] {
		return
	}
	orgID, ok := boundOrg(db)
	if !ok {
		db.Logger.Warn(db.Statement.Context, "tenant: query against %s with no current_org_id bound, denying all rows", table)
		db.Statement.AddClause(gormWhereFalse())
		return
	}
	db.Statement.AddClause(gormWhereOrg(table, orgID))
}

// guardWrite stamps OrgID onto a row being created from the bound value,
// refusing the write if the row already carries a different org — a
// second, row-level check beyond whatever the caller's scope logic set.
func guardWrite(db *gorm.DB) {
	table := tableName(db)
	if !tenantTables[table] {
		return
	}
	orgID, ok := boundOrg(db)
	if !ok {
		_ = db.AddError(ErrNotBound)
		return
	}

	field := db.Statement.Schema.LookUpField("OrgID")
	if field == nil {
		return
	}
	existing, isZero := field.ValueOf(db.Statement.Context, db.Statement.ReflectValue)
	if !isZero {
		if existingID, ok := existing.(uuid.UUID); ok && existingID != orgID {
			_ = db.AddError(fmt.Errorf("tenant: row org_id %s does not match bound org %s", existingID, orgID))
			return
		}
	}
	_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, orgID)
}

// guardFilter injects "org_id = ?" on update/delete statements, the same
// safety net as guardRead applied to mutations.
func guardFilter(db *gorm.DB) {
	table := tableName(db)
	if !tenantTables[table] {
		return
	}
	orgID, ok := boundOrg(db)
	if !ok {
		db.Logger.Warn(db.Statement.Context, "tenant: mutation against %s with no current_org_id bound, denying all rows", table)
		db.Statement.AddClause(gormWhereFalse())
		return
	}
	db.Statement.AddClause(gormWhereOrg(table, orgID))
}

func tableName(db *gorm.DB) string {
	if db.Statement.Schema != nil {
		return db.Statement.Schema.Table
	}
	return db.Statement.Table
}

// gormWhereOrg builds the "table.org_id = ?" clause merged (ANDed) into
// whatever predicate the caller already built via Where/scope.ToPredicate.
func gormWhereOrg(table string, orgID uuid.UUID) clause.Where {
	return clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: table, Name: "org_id"}, Value: orgID},
	}}
}

// gormWhereFalse denies every row — used when no binding is present so the
// statement runs (and returns nothing) rather than the caller mistaking a
// hard error for "query returned zero results".
func gormWhereFalse() clause.Where {
	return clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}}
}
