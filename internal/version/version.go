// Package version reports build information for insight.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "
//	  -X github.com/jmylchreest/insight/internal/version.Version=x.y.z
//	  -X github.com/jmylchreest/insight/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/jmylchreest/insight/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//	"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// ApplicationName is the binary and User-Agent product name.
const ApplicationName = "insight"

const unknown = "unknown"

// Set by ldflags.
var (
	// Version is a SemVer string; "0.0.0" for local builds.
	Version = "0.0.0"
	Commit  = unknown
	Date    = unknown
)

func init() {
	if Commit != unknown {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
		case "vcs.time":
			Date = s.Value
		}
	}
}

// Info is the machine-readable build description.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	ShortSHA  string `json:"short_sha,omitempty"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Dev       bool   `json:"dev"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Name:      ApplicationName,
		Version:   Version,
		Commit:    Commit,
		ShortSHA:  shortSHA(Commit),
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dev:       IsDev(),
	}
}

func shortSHA(commit string) string {
	if commit == unknown || len(commit) < 8 {
		return ""
	}
	return commit[:8]
}

// Short is the --version string: the version plus the short commit when
// known.
func Short() string {
	if sha := shortSHA(Commit); sha != "" {
		return fmt.Sprintf("%s (%s)", Version, sha)
	}
	return Version
}

// String is the long human-readable form.
func String() string {
	i := Get()
	if i.ShortSHA != "" {
		return fmt.Sprintf("%s %s (commit %s, built %s, %s, %s)",
			i.Name, i.Version, i.ShortSHA, i.Date, i.GoVersion, i.Platform)
	}
	return fmt.Sprintf("%s %s (%s, %s)", i.Name, i.Version, i.GoVersion, i.Platform)
}

// JSON renders Get as indented JSON.
func JSON() string {
	data, err := json.MarshalIndent(Get(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// UserAgent is sent to the analysis backend.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsDev reports whether this is an untagged build.
func IsDev() bool {
	return Version == "0.0.0" || Version == "dev" || strings.Contains(Version, "-dev.")
}
