// Package version reports build information for the arnold binary.
// Variables can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/wilsonaustin10/arnoldaibackend/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
	vcsTimeKey     = "vcs.time"
)

// Build-time variables.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty" yaml:"build_date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// GetVersion returns the version string, falling back to the module version
// recorded in the build info when no ldflags value was set.
func GetVersion() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return devVersion
}

// Get collects the build information, preferring ldflags values over VCS
// settings stamped by the go tool.
func Get() Info {
	info := Info{
		Version:   GetVersion(),
		Commit:    gitCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case vcsRevisionKey:
			if info.Commit == "" && s.Value != "" {
				info.Commit = s.Value[:min(shortCommitLen, len(s.Value))]
			}
		case vcsModifiedKey:
			info.Dirty = gitCommit == "" && s.Value == "true"
		case vcsTimeKey:
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		}
	}
	return info
}

// String renders the info for `arnold version`.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arnold version %s", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", i.Commit)
		if i.Dirty {
			b.WriteString(" (dirty)")
		}
	}
	if i.BuildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", i.BuildDate)
	}
	fmt.Fprintf(&b, "\ngo: %s", i.GoVersion)
	return b.String()
}

// LogAttrs returns the info as slog key/value pairs.
func (i Info) LogAttrs() []any {
	attrs := []any{"version", i.Version}
	if i.Commit != "" {
		attrs = append(attrs, "commit", i.Commit)
	}
	if i.Dirty {
		attrs = append(attrs, "dirty", true)
	}
	if i.BuildDate != "" {
		attrs = append(attrs, "built", i.BuildDate)
	}
	return attrs
}
