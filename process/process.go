// Package process enriches capture records with metadata read from /proc.
// The kernel side only ships pid, comm, and syscall arguments; everything
// else here is best-effort userspace lookup that can race with the process
// exiting, so every field may be empty.
package process

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Info is the metadata collected for one pid.
type Info struct {
	PID         uint32
	ExePath     string
	CmdLine     string
	WorkingDir  string
	Username    string
	ContainerID string
	CollectedAt time.Time
}

// Collect gathers what /proc still knows about pid. Fields that cannot be
// read stay empty; the only hard failure is the process being entirely gone.
func Collect(pid uint32) (*Info, error) {
	info := &Info{PID: pid, CollectedAt: time.Now()}

	procDir := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procDir); err != nil {
		return nil, fmt.Errorf("process %d gone: %w", pid, err)
	}

	if exe, err := os.Readlink(filepath.Join(procDir, "exe")); err == nil {
		info.ExePath = exe
	}
	if cwd, err := os.Readlink(filepath.Join(procDir, "cwd")); err == nil {
		info.WorkingDir = cwd
	}
	if cmdline, err := os.ReadFile(filepath.Join(procDir, "cmdline")); err == nil {
		info.CmdLine = cmdlineString(cmdline)
	}
	if cgroup, err := os.ReadFile(filepath.Join(procDir, "cgroup")); err == nil {
		info.ContainerID = containerIDFromCgroup(string(cgroup))
	}

	return info, nil
}

// cmdlineString converts the NUL-separated /proc cmdline format to a
// space-separated string.
func cmdlineString(raw []byte) string {
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	return strings.Join(parts, " ")
}

// containerIDFromCgroup pulls a docker/containerd id out of cgroup paths.
// Container ids are 64 hex characters (12 for the short form); the last
// matching path element wins.
func containerIDFromCgroup(data string) string {
	for _, line := range strings.Split(data, "\n") {
		if !strings.Contains(line, "docker") && !strings.Contains(line, "containerd") {
			continue
		}
		parts := strings.Split(line, "/")
		for i := len(parts) - 1; i >= 0; i-- {
			part := strings.TrimSuffix(parts[i], ".scope")
			if idx := strings.LastIndex(part, "-"); idx >= 0 {
				part = part[idx+1:]
			}
			if isHexID(part) {
				return part
			}
		}
	}
	return ""
}

func isHexID(s string) bool {
	if len(s) != 12 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

var (
	usernameMu    sync.RWMutex
	usernameByUID = map[uint32]string{}
)

// UsernameFromUID resolves a uid to a username, caching results; uid churn
// is tiny compared to event volume.
func UsernameFromUID(uid uint32) string {
	usernameMu.RLock()
	name, ok := usernameByUID[uid]
	usernameMu.RUnlock()
	if ok {
		return name
	}

	name = fmt.Sprintf("%d", uid)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}

	usernameMu.Lock()
	usernameByUID[uid] = name
	usernameMu.Unlock()
	return name
}
