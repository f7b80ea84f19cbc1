// Package filesystem holds small path helpers shared by the config
// loader and state-directory resolution.
package filesystem

import "os"

// UserHomeDir returns the current user's home directory, or "." when it
// cannot be determined, so ~/.overseer paths degrade to the working
// directory instead of erroring.
func UserHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
