package stage

// Breakpoint is the stage before which the remote service should pause. The
// zero value is unset, meaning the session runs to completion.
type Breakpoint struct {
	stage string
	set   bool
}

// Unset returns a breakpoint that pauses nowhere.
func Unset() Breakpoint {
	return Breakpoint{}
}

// At returns a breakpoint on the named stage. An empty name yields Unset.
func At(name string) Breakpoint {
	if name == "" {
		return Breakpoint{}
	}
	return Breakpoint{stage: name, set: true}
}

// IsSet reports whether the breakpoint names a stage.
func (b Breakpoint) IsSet() bool {
	return b.set
}

// Stage returns the stage name and whether the breakpoint is set.
func (b Breakpoint) Stage() (string, bool) {
	return b.stage, b.set
}

func (b Breakpoint) String() string {
	if !b.set {
		return "unset"
	}
	return b.stage
}
