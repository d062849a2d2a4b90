package workflow

import (
	"slices"

	"sgi/pkg/session"
)

// Workflow states.
const (
	StateIncidentType        session.State = "INCIDENT_TYPE"
	StateIncidentCategory    session.State = "INCIDENT_CATEGORY"
	StateIncidentSeverity    session.State = "INCIDENT_SEVERITY"
	StateIncidentDescription session.State = "INCIDENT_DESCRIPTION"
	StateIncidentPhoto       session.State = "INCIDENT_PHOTO"
	StateIncidentConfirm     session.State = "INCIDENT_CONFIRM"

	StateMediaProject       session.State = "MEDIA_PROJECT"
	StateMediaProjectSelect session.State = "MEDIA_PROJECT_SELECT"
	StateMediaFile          session.State = "MEDIA_FILE"
	StateMediaCaption       session.State = "MEDIA_CAPTION"
	StateMediaConfirm       session.State = "MEDIA_CONFIRM"

	StateStockQuery  session.State = "STOCK_QUERY"
	StateStockSelect session.State = "STOCK_SELECT"

	StateSignalementSelect  session.State = "SIGNALEMENT_SELECT"
	StateSignalementAction  session.State = "SIGNALEMENT_ACTION"
	StateSignalementComment session.State = "SIGNALEMENT_COMMENT"
	StateSignalementConfirm session.State = "SIGNALEMENT_CONFIRM"

	StateFinanceProject session.State = "FINANCE_PROJECT"
	StateFinanceSelect  session.State = "FINANCE_SELECT"

	StateUpdateProject       session.State = "UPDATE_PROJECT"
	StateUpdateProjectSelect session.State = "UPDATE_PROJECT_SELECT"
	StateUpdateField         session.State = "UPDATE_FIELD"
	StateUpdateValue         session.State = "UPDATE_VALUE"
	StateUpdateConfirm       session.State = "UPDATE_CONFIRM"
)

// TransitionTable lists the legal next states of each state.
type TransitionTable map[session.State][]session.State

// Transitions is the static table every step outcome is checked against.
// Backward edges from confirmation states recover slots lost to a
// concurrent write by asking for them again.
var Transitions = TransitionTable{
	StateIncidentType:        {StateIncidentCategory},
	StateIncidentCategory:    {StateIncidentSeverity, StateIncidentType},
	StateIncidentSeverity:    {StateIncidentDescription},
	StateIncidentDescription: {StateIncidentPhoto},
	StateIncidentPhoto:       {StateIncidentConfirm},
	StateIncidentConfirm: {
		session.StateIdle, StateIncidentType, StateIncidentCategory,
		StateIncidentSeverity, StateIncidentDescription,
	},

	StateMediaProject:       {StateMediaFile, StateMediaProjectSelect},
	StateMediaProjectSelect: {StateMediaFile},
	StateMediaFile:          {StateMediaCaption, StateMediaConfirm},
	StateMediaCaption:       {StateMediaConfirm},
	StateMediaConfirm:       {session.StateIdle, StateMediaProject, StateMediaFile},

	StateStockQuery:  {session.StateIdle, StateStockSelect},
	StateStockSelect: {session.StateIdle},

	StateSignalementSelect:  {StateSignalementAction},
	StateSignalementAction:  {StateSignalementComment},
	StateSignalementComment: {StateSignalementConfirm},
	StateSignalementConfirm: {session.StateIdle, StateSignalementSelect, StateSignalementAction},

	StateFinanceProject: {session.StateIdle, StateFinanceSelect},
	StateFinanceSelect:  {session.StateIdle},

	StateUpdateProject:       {StateUpdateField, StateUpdateProjectSelect},
	StateUpdateProjectSelect: {StateUpdateField},
	StateUpdateField:         {StateUpdateValue},
	StateUpdateValue:         {StateUpdateConfirm},
	StateUpdateConfirm:       {session.StateIdle, StateUpdateProject, StateUpdateField, StateUpdateValue},
}

// IsValidTransition reports whether from may move to to.
func IsValidTransition(from, to session.State) bool {
	return slices.Contains(Transitions[from], to)
}
