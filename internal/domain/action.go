package domain

// Action represents a trading action recommended by the decision oracle.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
	ActionClose
	ActionHold
)

// action string constants to avoid magic strings
const (
	actionStringBuy   = "buy"
	actionStringSell  = "sell"
	actionStringClose = "close"
	actionStringHold  = "hold"
)

// isValidActionString checks if the string is a valid action
func isValidActionString(s string) bool {
	switch s {
	case actionStringBuy, actionStringSell, actionStringClose, actionStringHold:
		return true
	}
	return false
}

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return actionStringBuy
	case ActionSell:
		return actionStringSell
	case ActionClose:
		return actionStringClose
	case ActionHold:
		return actionStringHold
	default:
		return "unknown"
	}
}

// ParseAction converts an action string into a typed Action.
func ParseAction(s string) (Action, bool) {
	switch s {
	case actionStringBuy:
		return ActionBuy, true
	case actionStringSell:
		return ActionSell, true
	case actionStringClose:
		return ActionClose, true
	case actionStringHold:
		return ActionHold, true
	default:
		return ActionHold, false
	}
}
