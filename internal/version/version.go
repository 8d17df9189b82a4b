// Package version reports build information for tabula binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
)

const (
	unknownValue     = "unknown"
	commitHashLength = 7
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	BuildDate = unknownValue
	GitCommit = unknownValue
	GoVersion = runtime.Version()
)

// keyDeps are the modules shown by String when the binary embeds them.
var keyDeps = []string{
	"github.com/apache/arrow-go/v18",
	"github.com/xuri/excelize/v2",
	"modernc.org/sqlite",
	"github.com/jackc/pgx/v5",
}

// BuildInfo contains build information
type BuildInfo struct {
	Version   string   `json:"version" yaml:"version"`
	BuildDate string   `json:"build_date" yaml:"build_date"`
	GitCommit string   `json:"git_commit" yaml:"git_commit"`
	GoVersion string   `json:"go_version" yaml:"go_version"`
	Dirty     bool     `json:"dirty" yaml:"dirty"`
	Module    string   `json:"module,omitempty" yaml:"module,omitempty"`
	Deps      []Module `json:"deps,omitempty" yaml:"deps,omitempty"`
}

// Module is a dependency and its resolved version.
type Module struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version" yaml:"version"`
}

// Info returns build information, reading dependency versions from the binary.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Module = bi.Main.Path
		for _, dep := range bi.Deps {
			if slices.Contains(keyDeps, dep.Path) {
				info.Deps = append(info.Deps, Module{Path: dep.Path, Version: dep.Version})
			}
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.modified" && s.Value == "true" {
				info.Dirty = true
			}
		}
	}
	return info
}

// String returns a formatted version string
func (b BuildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tabula %s", b.Version)
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	sb.WriteString("\n")

	if b.BuildDate != unknownValue && b.BuildDate != "" {
		fmt.Fprintf(&sb, "Build Date: %s\n", b.BuildDate)
	}
	if b.GitCommit != unknownValue && b.GitCommit != "" {
		commit := strings.TrimSuffix(b.GitCommit, "-dirty")
		if len(commit) > commitHashLength {
			commit = commit[:commitHashLength]
		}
		fmt.Fprintf(&sb, "Git Commit: %s\n", commit)
	}
	fmt.Fprintf(&sb, "Go Version: %s\n", b.GoVersion)
	for _, d := range b.Deps {
		fmt.Fprintf(&sb, "  %s %s\n", d.Path, d.Version)
	}
	return sb.String()
}

// IsRelease returns true for a tagged build without a pre-release suffix.
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-")
}
