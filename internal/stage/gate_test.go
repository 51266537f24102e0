package stage

import (
	"reflect"
	"testing"
)

func TestDisabled(t *testing.T) {
	reg := Default()
	tests := []struct {
		name    string
		target  string
		current string
		brp     Breakpoint
		want    bool
	}{
		{"already passed", "init", "prepare", Unset(), true},
		{"current stage", "prepare", "prepare", Unset(), true},
		{"ahead without breakpoint", "start", "prepare", Unset(), false},
		{"ahead but before breakpoint", "start", "prepare", At("poll"), true},
		{"on breakpoint", "poll", "prepare", At("poll"), false},
		{"after breakpoint", "end", "prepare", At("poll"), false},
		{"no session", "lock", "", Unset(), false},
		{"no session with breakpoint", "lock", "", At("prepare"), true},
		{"unknown current sorts first", "lock", "warmup", Unset(), false},
		{"unknown breakpoint ignored", "init", "lock", At("warmup"), false},
		{"unknown target", "warmup", "", Unset(), true},
		{"terminal reached", "finish", "finish", Unset(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Disabled(tt.target, tt.current, tt.brp)
			if got != tt.want {
				t.Fatalf("Disabled(%q, %q, %v) = %v, want %v", tt.target, tt.current, tt.brp, got, tt.want)
			}
			if again := reg.Disabled(tt.target, tt.current, tt.brp); again != got {
				t.Fatalf("Disabled not idempotent")
			}
		})
	}
}

func TestDisabledCurrentStageAlwaysBlocked(t *testing.T) {
	reg := Default()
	for _, name := range DefaultStages {
		for _, brp := range []Breakpoint{Unset(), At("lock"), At("finish")} {
			if !reg.Disabled(name, name, brp) {
				t.Fatalf("Disabled(%q) with current %q should be true", name, name)
			}
		}
	}
}

func TestDisabledUnsetBreakpointNeverMatters(t *testing.T) {
	reg := Default()
	unsets := []Breakpoint{Unset(), {}, At("")}
	for _, current := range append([]string{""}, DefaultStages...) {
		for _, target := range DefaultStages {
			want := reg.Disabled(target, current, unsets[0])
			for _, u := range unsets[1:] {
				if got := reg.Disabled(target, current, u); got != want {
					t.Fatalf("unset representation changed result for %s/%s", target, current)
				}
			}
		}
	}
}

func TestEnabled(t *testing.T) {
	reg := Default()
	got := reg.Enabled("postprocess", Unset())
	want := []string{"unlock", "finish"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Enabled() = %v, want %v", got, want)
	}
	if got := reg.Enabled("finish", Unset()); len(got) != 0 {
		t.Fatalf("Enabled() at terminal = %v, want none", got)
	}
}
