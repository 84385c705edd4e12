// /internal/version/version.go
package version

import "runtime/debug"

const AppName = "trackdeck"

// Version is overridable at build time via -ldflags.
var Version = "dev"

// Revision returns the VCS revision baked into the binary, if any.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}
