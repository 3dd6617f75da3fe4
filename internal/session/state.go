package session

import "strings"

// State is a node of the conversation.
type State string

const (
	StateNew                        State = "new"
	StateChoosingGender             State = "choosing_gender"
	StateChoosingLanguage           State = "choosing_language"
	StateChoosingLanguageViaCommand State = "choosing_language_via_command"
	StateRecording                  State = "recording"
	StateConfirming                 State = "confirming"
)

// Action is an inbound user intent.
type Action string

const (
	ActionStart           Action = "start"
	ActionSelectGender    Action = "select_gender"
	ActionSelectLanguage  Action = "select_language"
	ActionChangeLanguage  Action = "change_language"
	ActionSkip            Action = "skip"
	ActionSubmitRecording Action = "submit_recording"
	ActionConfirm         Action = "confirm"
	ActionCancel          Action = "cancel"
)

// transitions lists, per state, the actions legal in it. Start and cancel
// are legal everywhere and are not repeated here.
var transitions = map[State][]Action{
	StateNew:                        nil,
	StateChoosingGender:             {ActionSelectGender},
	StateChoosingLanguage:           {ActionSelectLanguage},
	StateChoosingLanguageViaCommand: {ActionSelectLanguage},
	StateRecording:                  {ActionChangeLanguage, ActionSkip, ActionSubmitRecording},
	StateConfirming:                 {ActionConfirm},
}

// Allowed reports whether action may be applied in state.
func Allowed(state State, action Action) bool {
	if action == ActionStart || action == ActionCancel {
		return true
	}
	for _, a := range transitions[state] {
		if a == action {
			return true
		}
	}
	return false
}

// Gender is the self-reported speaker gender.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts the two button payloads.
func ParseGender(v string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(v))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	default:
		return GenderUnset, false
	}
}

// Decision payloads of the confirmation keyboard.
const (
	DecisionAccept = "accept"
	DecisionRetake = "retake"
)
