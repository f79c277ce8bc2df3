package version

import (
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.GitCommit == "" {
		t.Error("GitCommit should not be empty")
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be set by runtime.Version()")
	}
	if info.Platform == "" {
		t.Error("Platform should be set by runtime.GOOS/GOARCH")
	}
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "2026-01-13T20:00:00Z"
	info := GetBuildInfo()

	want, _ := time.Parse(time.RFC3339, BuildDate)
	if !info.BuildTime.Equal(want) {
		t.Errorf("BuildTime = %v, want %v", info.BuildTime, want)
	}
}

func TestGetBuildInfo_IgnoresInvalidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "yesterday"
	if info := GetBuildInfo(); !info.BuildTime.IsZero() {
		t.Errorf("BuildTime = %v, want zero", info.BuildTime)
	}
}

func TestString(t *testing.T) {
	originalVersion, originalCommit := Version, GitCommit
	defer func() { Version, GitCommit = originalVersion, originalCommit }()

	Version, GitCommit = "1.2.3", "abc123"
	if got, want := String(), "mailqueue 1.2.3 (abc123)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
