// Package stage defines the sign-off stage enumeration and its
// transition table. It is pure: no I/O, no side effects. Callers own
// the stage-field write and must consult CanTransition first.
package stage

// Stage is one discrete position in the sign-off approval sequence.
type Stage string

const (
	NotStarted                Stage = "not_started"
	AreaInProgress            Stage = "area_validation_in_progress"
	AreaComplete              Stage = "area_validation_complete"
	TechnicalInProgress       Stage = "technical_validation_in_progress"
	TechnicalComplete         Stage = "technical_validation_complete"
	CrossFunctionalInProgress Stage = "cross_functional_validation_in_progress"
	CrossFunctionalComplete   Stage = "cross_functional_validation_complete"
	ExecutivePending          Stage = "executive_pending"
	ExecutiveSigned           Stage = "executive_signed"
	PartnerCountersignPending Stage = "partner_countersign_pending"
	Completed                 Stage = "completed"
	Rejected                  Stage = "rejected"
)

// All lists every stage in path order, with Rejected last.
var All = []Stage{
	NotStarted,
	AreaInProgress,
	AreaComplete,
	TechnicalInProgress,
	TechnicalComplete,
	CrossFunctionalInProgress,
	CrossFunctionalComplete,
	ExecutivePending,
	ExecutiveSigned,
	PartnerCountersignPending,
	Completed,
	Rejected,
}

// transitions is the exhaustive adjacency table. Every in-progress
// stage may reject; Completed has no outgoing edges; Rejected only
// restarts. No wildcard entries, no skipping.
var transitions = map[Stage][]Stage{
	NotStarted:                {AreaInProgress},
	AreaInProgress:            {AreaComplete, Rejected},
	AreaComplete:              {TechnicalInProgress},
	TechnicalInProgress:       {TechnicalComplete, Rejected},
	TechnicalComplete:         {CrossFunctionalInProgress},
	CrossFunctionalInProgress: {CrossFunctionalComplete, Rejected},
	CrossFunctionalComplete:   {ExecutivePending},
	ExecutivePending:          {ExecutiveSigned, Rejected},
	ExecutiveSigned:           {PartnerCountersignPending},
	PartnerCountersignPending: {Completed, Rejected},
	Completed:                 {},
	Rejected:                  {NotStarted},
}

// Valid reports whether s is a member of the closed enumeration.
func Valid(s Stage) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns the legal successor stages of s.
func Successors(s Stage) []Stage {
	out := make([]Stage, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Role identifies a distinct validating party. The technical stage
// requires two independent roles; every other stage has one.
type Role string

const (
	RoleAreaLead            Role = "area_lead"
	RoleTechnicalPrimary    Role = "technical_lead_primary"
	RoleTechnicalSecondary  Role = "technical_lead_secondary"
	RoleCrossFunctionalLead Role = "cross_functional_lead"
	RoleExecutiveSponsor    Role = "executive_sponsor"
	RolePartnerExecutive    Role = "partner_executive"
)

// RoleStage describes where a role's submissions land in the path:
// the prior "complete" stage it enters from, the in-progress stage
// the submission belongs to, and the stage reached once every role
// for that stage has approved.
type RoleStage struct {
	EntryFrom  Stage
	InProgress Stage
	Complete   Stage
}

var roleStages = map[Role]RoleStage{
	RoleAreaLead:            {EntryFrom: NotStarted, InProgress: AreaInProgress, Complete: AreaComplete},
	RoleTechnicalPrimary:    {EntryFrom: AreaComplete, InProgress: TechnicalInProgress, Complete: TechnicalComplete},
	RoleTechnicalSecondary:  {EntryFrom: AreaComplete, InProgress: TechnicalInProgress, Complete: TechnicalComplete},
	RoleCrossFunctionalLead: {EntryFrom: TechnicalComplete, InProgress: CrossFunctionalInProgress, Complete: CrossFunctionalComplete},
	RoleExecutiveSponsor:    {EntryFrom: CrossFunctionalComplete, InProgress: ExecutivePending, Complete: ExecutiveSigned},
	RolePartnerExecutive:    {EntryFrom: ExecutiveSigned, InProgress: PartnerCountersignPending, Complete: Completed},
}

// StageForRole returns the path placement for a role.
func StageForRole(r Role) (RoleStage, bool) {
	rs, ok := roleStages[r]
	return rs, ok
}

// RolesForStage returns every role that must approve before the given
// in-progress stage may complete.
func RolesForStage(inProgress Stage) []Role {
	var roles []Role
	for _, r := range orderedRoles {
		if roleStages[r].InProgress == inProgress {
			roles = append(roles, r)
		}
	}
	return roles
}

// orderedRoles fixes iteration order for deterministic output.
var orderedRoles = []Role{
	RoleAreaLead,
	RoleTechnicalPrimary,
	RoleTechnicalSecondary,
	RoleCrossFunctionalLead,
	RoleExecutiveSponsor,
	RolePartnerExecutive,
}

// Roles lists every validator role in path order.
func Roles() []Role {
	out := make([]Role, len(orderedRoles))
	copy(out, orderedRoles)
	return out
}

// ValidRole reports whether r is a known validator role.
func ValidRole(r Role) bool {
	_, ok := roleStages[r]
	return ok
}
