package stage

// Disabled reports whether an action targeting stage target is currently
// blocked, given the tracked session's current stage and the pending
// breakpoint. An action is disabled when its stage was already reached, or
// when it lies before a set breakpoint.
//
// An empty or unknown current stage sorts before every stage. An unset
// breakpoint, or one naming an unknown stage, never disables anything. An
// unknown target is always disabled.
func (r *Registry) Disabled(target, current string, brp Breakpoint) bool {
	targetPos := r.PositionOf(target)
	if targetPos == NotFound {
		return true
	}
	if targetPos <= r.PositionOf(current) {
		return true
	}
	if name, ok := brp.Stage(); ok {
		if brpPos := r.PositionOf(name); brpPos != NotFound && targetPos < brpPos {
			return true
		}
	}
	return false
}

// Enabled returns the stages whose actions are currently permitted, in order.
func (r *Registry) Enabled(current string, brp Breakpoint) []string {
	var out []string
	for _, name := range r.Names() {
		if !r.Disabled(name, current, brp) {
			out = append(out, name)
		}
	}
	return out
}
