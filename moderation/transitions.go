package moderation

import "fmt"

var transitions = map[MessageStatus]map[ActionKind]MessageStatus{
	StatusVisible: {
		ActionHide:   StatusHidden,
		ActionDelete: StatusDeleted,
		ActionFlag:   StatusFlagged,
	},
	StatusFlagged: {
		ActionHide:   StatusHidden,
		ActionDelete: StatusDeleted,
		ActionUnflag: StatusVisible,
	},
	StatusHidden: {
		ActionDelete: StatusDeleted,
	},
	// deleted is terminal
}

// Next returns the status reached by applying kind to from.
func Next(from MessageStatus, kind ActionKind) (MessageStatus, error) {
	if to, ok := transitions[from][kind]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s message", ErrInvalidTransition, kind, from)
}

func validAction(kind ActionKind) bool {
	switch kind {
	case ActionHide, ActionDelete, ActionFlag, ActionUnflag:
		return true
	}
	return false
}
