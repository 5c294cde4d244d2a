package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// originalUser returns the user who invoked sudo.
func originalUser() (*user.User, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return nil, fmt.Errorf("SUDO_USER environment variable not found")
	}
	return user.Lookup(sudoUser)
}

// restoreDataOwnership hands the data directory back to the sudo invoker.
// Attaching tracepoints needs root for the whole run, so instead of
// dropping privileges we chown what we write.
func restoreDataOwnership(dataDir string) error {
	u, err := originalUser()
	if err != nil {
		return err
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("invalid uid: %v", err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("invalid gid: %v", err)
	}

	if err := os.Chown(dataDir, uid, gid); err != nil {
		return err
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.Chown(filepath.Join(dataDir, entry.Name()), uid, gid); err != nil {
			return err
		}
	}
	return nil
}
