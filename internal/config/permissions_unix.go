//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when a config file holding database passwords
// or webhook URLs is readable by group or others.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Sprintf(
			"WARNING: %s is readable by other users (mode %04o).\n"+
				"         It may hold database passwords or webhook URLs; run: chmod 600 %s\n\n",
			path, mode, path,
		)
	}
	return ""
}
