package version

import "testing"

func TestGet_DefaultsPresent(t *testing.T) {
	vi := Get()

	if vi.AppName != "toptalkers" {
		t.Errorf("AppName = %q", vi.AppName)
	}
	if vi.Version == "" {
		t.Error("Version is empty")
	}
	if vi.Commit == "" {
		t.Error("Commit is empty")
	}
	// GoVersion comes from ReadBuildInfo under `go test`
	if vi.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}
