//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// sharedPrincipals are icacls principals that grant access beyond the owner.
var sharedPrincipals = []string{"everyone", "authenticated users", "builtin\\users", "users"}

// checkFilePermissions warns when icacls reports that a config file holding
// database passwords or webhook URLs is shared with other principals.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	output, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(output))

	for _, principal := range sharedPrincipals {
		if strings.Contains(acl, principal) {
			return fmt.Sprintf(
				"WARNING: %s is shared with %q.\n"+
					"         It may hold database passwords or webhook URLs; restrict it with:\n"+
					"         icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				path, principal, path,
			)
		}
	}
	return ""
}
