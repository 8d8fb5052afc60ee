package version

import (
	"fmt"
	"io"
	"os"
)

// Build metadata, set with -ldflags "-X".
var (
	App       = "IdGate"
	Version   string
	GitCommit string
	BuildTime string
	GoVersion string
	BuildOS   string
	BuildArch string
)

// PrintVersion prints the version information to stdout.
func PrintVersion() {
	Fprint(os.Stdout)
}

// Fprint writes the version information to w, skipping unset fields.
func Fprint(w io.Writer) {
	fmt.Fprintf(w, "%s version %s\n", App, getVersion())
	if GitCommit != "" {
		fmt.Fprintf(w, "Git commit: %s\n", getShortCommit())
	}
	if BuildTime != "" {
		fmt.Fprintf(w, "Build time: %s\n", BuildTime)
	}
	if GoVersion != "" {
		fmt.Fprintf(w, "Go version: %s\n", GoVersion)
	}
	if BuildOS != "" && BuildArch != "" {
		fmt.Fprintf(w, "Built for: %s/%s\n", BuildOS, BuildArch)
	}
}

// Info is the build metadata reported by health checks.
func Info() map[string]string {
	info := map[string]string{"version": getVersion()}
	if GitCommit != "" {
		info["commit"] = getShortCommit()
	}
	return info
}

func getShortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

func getVersion() string {
	if Version != "" {
		return Version
	}
	return "dev"
}
