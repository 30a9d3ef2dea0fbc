package output

import (
	"errors"
	"testing"
)

func TestExitCodeForMapsKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"startup", Startup(errors.New("bad flags")), ExitStartup},
		{"runtime", Runtime(errors.New("trace failed")), ExitRuntime},
		{"plain", errors.New("unclassified"), ExitRuntime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCodeFor(tc.err); got != tc.want {
				t.Fatalf("ExitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Startup(inner)
	if !errors.Is(wrapped, inner) {
		t.Fatalf("expected errors.Is to find inner error")
	}
}
