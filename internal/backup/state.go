package backup

// State is a step of one backup run.
type State int

const (
	Idle State = iota
	Authenticating
	ResolvingDestination
	Archiving
	Uploading
	Listing
	Pruning
	Done
	Failed
	// Abandoned ends a run whose destination resolved to no folder.
	Abandoned
)

var stateNames = [...]string{
	Idle:                 "idle",
	Authenticating:       "authenticating",
	ResolvingDestination: "resolving_destination",
	Archiving:            "archiving",
	Uploading:            "uploading",
	Listing:              "listing",
	Pruning:              "pruning",
	Done:                 "done",
	Failed:               "failed",
	Abandoned:            "abandoned",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Abandoned
}
