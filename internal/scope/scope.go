// Package scope implements the Identity & Scope Resolver (org → team → user
// → agent hierarchy): deriving a caller's scope from its identity, computing
// the readable-scope chain and writable scope, and projecting the chain into
// a GORM row predicate.
package scope

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Level is the most specific tenancy level an identity is authenticated at.
type Level string

const (
	LevelOrg   Level = "org"
	LevelTeam  Level = "team"
	LevelUser  Level = "user"
	LevelAgent Level = "agent"
)

// Scope is the (org, team, user, agent) tuple identifying a tenancy slice.
// The zero value is never valid — construct with New.
type Scope struct {
	OrgID   string
	TeamID  string // empty if unset
	UserID  string // empty if unset
	AgentID string // empty if unset
	Level   Level
}

// New validates and constructs a Scope. Mirrors the original's frozen
// dataclass __post_init__ validation.
func New(orgID, teamID, userID, agentID string, level Level) (Scope, error) {
	s := Scope{OrgID: orgID, TeamID: teamID, UserID: userID, AgentID: agentID, Level: level}
	if orgID == "" {
		return Scope{}, fmt.Errorf("scope: org_id is required")
	}
	if level == LevelTeam && teamID == "" {
		return Scope{}, fmt.Errorf("scope: team_id required for team-level scope")
	}
	if level == LevelUser && userID == "" {
		return Scope{}, fmt.Errorf("scope: user_id required for user-level scope")
	}
	if level == LevelAgent && agentID == "" {
		return Scope{}, fmt.Errorf("scope: agent_id required for agent-level scope")
	}
	if agentID != "" && userID == "" {
		return Scope{}, fmt.Errorf("scope: user_id required when agent_id is set")
	}
	return s, nil
}

// Identity is the minimal authenticated-request shape the resolver consumes:
// a validated bearer claim or an API-key lookup result, already reduced to
// its scope-relevant fields.
type Identity struct {
	OrgID   string
	TeamID  string
	UserID  string
	AgentID string
}

// ResolveScope derives the most specific Scope permitted by an identity.
// Invariant: agent_id present ⇒ user_id present; this is never elided when
// authenticated as an agent.
func ResolveScope(id Identity) (Scope, error) {
	var level Level
	switch {
	case id.AgentID != "":
		if id.UserID == "" {
			return Scope{}, fmt.Errorf("scope: agent identity missing user_id")
		}
		level = LevelAgent
	case id.UserID != "":
		level = LevelUser
	case id.TeamID != "":
		level = LevelTeam
	default:
		level = LevelOrg
	}
	return New(id.OrgID, id.TeamID, id.UserID, id.AgentID, level)
}

// OrgUUID parses OrgID, satisfying internal/tenant's BindScope without that
// package importing scope.Scope directly.
func (s Scope) OrgUUID() (uuid.UUID, error) {
	return uuid.Parse(s.OrgID)
}

// ResolveWritable returns the scope writes happen at — always the most
// specific level available, which for a validly-constructed Scope is itself.
func ResolveWritable(s Scope) Scope { return s }

// ResolveReadable returns the inclusion chain, most specific to root.
func ResolveReadable(s Scope) []Scope {
	switch s.Level {
	case LevelOrg:
		return []Scope{{OrgID: s.OrgID, Level: LevelOrg}}

	case LevelTeam:
		return []Scope{
			{OrgID: s.OrgID, TeamID: s.TeamID, Level: LevelTeam},
			{OrgID: s.OrgID, Level: LevelOrg},
		}

	case LevelUser:
		chain := []Scope{{OrgID: s.OrgID, UserID: s.UserID, Level: LevelUser}}
		if s.TeamID != "" {
			chain = append(chain, Scope{OrgID: s.OrgID, TeamID: s.TeamID, Level: LevelTeam})
		}
		chain = append(chain, Scope{OrgID: s.OrgID, Level: LevelOrg})
		return chain

	default: // agent
		chain := []Scope{
			{OrgID: s.OrgID, TeamID: s.TeamID, UserID: s.UserID, AgentID: s.AgentID, Level: LevelAgent},
			{OrgID: s.OrgID, UserID: s.UserID, Level: LevelUser},
		}
		if s.TeamID != "" {
			chain = append(chain, Scope{OrgID: s.OrgID, TeamID: s.TeamID, Level: LevelTeam})
		}
		chain = append(chain, Scope{OrgID: s.OrgID, Level: LevelOrg})
		return chain
	}
}

// Columns names the tenant-scope columns on the table being filtered.
// Defaults to "org_id"/"team_id"/"user_id"/"agent_id" when a field is empty.
type Columns struct {
	Org, Team, User, Agent string
}

func (c Columns) withDefaults() Columns {
	if c.Org == "" {
		c.Org = "org_id"
	}
	if c.Team == "" {
		c.Team = "team_id"
	}
	if c.User == "" {
		c.User = "user_id"
	}
	if c.Agent == "" {
		c.Agent = "agent_id"
	}
	return c
}

// ToPredicate builds an OR-of-AND GORM scope across a readable-scope chain.
// Each scope specifies an exact match on the columns it names and a NULL
// constraint on strictly-more-specific columns, so e.g. a team-level scope
// row never matches a query bound to user=U,team=NULL.
func ToPredicate(readable []Scope, cols Columns) func(*gorm.DB) *gorm.DB {
	cols = cols.withDefaults()
	return func(db *gorm.DB) *gorm.DB {
		if len(readable) == 0 {
			return db.Where("1 = 0")
		}

		query := db.Session(&gorm.Session{NewDB: true})
		outer := db
		var built *gorm.DB
		for _, s := range readable {
			clause := query.Where(fmt.Sprintf("%s = ?", cols.Org), s.OrgID)
			switch s.Level {
			case LevelOrg:
				clause = clause.Where(fmt.Sprintf("%s IS NULL", cols.Team)).
					Where(fmt.Sprintf("%s IS NULL", cols.User)).
					Where(fmt.Sprintf("%s IS NULL", cols.Agent))
			case LevelTeam:
				clause = clause.Where(fmt.Sprintf("%s = ?", cols.Team), s.TeamID).
					Where(fmt.Sprintf("%s IS NULL", cols.User)).
					Where(fmt.Sprintf("%s IS NULL", cols.Agent))
			case LevelUser:
				if s.TeamID != "" {
					clause = clause.Where(fmt.Sprintf("%s = ?", cols.Team), s.TeamID)
				} else {
					clause = clause.Where(fmt.Sprintf("%s IS NULL", cols.Team))
				}
				clause = clause.Where(fmt.Sprintf("%s = ?", cols.User), s.UserID).
					Where(fmt.Sprintf("%s IS NULL", cols.Agent))
			case LevelAgent:
				if s.TeamID != "" {
					clause = clause.Where(fmt.Sprintf("%s = ?", cols.Team), s.TeamID)
				} else {
					clause = clause.Where(fmt.Sprintf("%s IS NULL", cols.Team))
				}
				clause = clause.Where(fmt.Sprintf("%s = ?", cols.User), s.UserID).
					Where(fmt.Sprintf("%s = ?", cols.Agent), s.AgentID)
			}

			if built == nil {
				built = clause
			} else {
				built = built.Or(clause)
			}
		}
		return outer.Where(built)
	}
}

// Contains reports whether target lies within any scope of the readable
// chain — used by components that need a cheap in-memory scope check
// instead of a round trip to the predicate (e.g. verifying a fetched row's
// scope tuple after a lookup by id).
func Contains(readable []Scope, target Scope) bool {
	for _, s := range readable {
		switch s.Level {
		case LevelOrg:
			if s.OrgID == target.OrgID {
				return true
			}
		case LevelTeam:
			if s.OrgID == target.OrgID && s.TeamID == target.TeamID && target.TeamID != "" {
				return true
			}
		case LevelUser:
			if s.OrgID == target.OrgID && s.UserID == target.UserID && target.UserID != "" {
				return true
			}
		case LevelAgent:
			if s.OrgID == target.OrgID && s.UserID == target.UserID && s.AgentID == target.AgentID && target.AgentID != "" {
				return true
			}
		}
	}
	return false
}
