package buildinfo

import "testing"

func TestGetPopulatesDefaults(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Fatalf("Get returned empty fields: %+v", info)
	}
}

func TestStringFormat(t *testing.T) {
	want := Version + " (" + Commit + ") built at " + BuildTime
	if got := String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
