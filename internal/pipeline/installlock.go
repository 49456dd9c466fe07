package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlyone/lockfile"
)

// acquireInstallLock serialises InstallDependencies across concurrent
// process invocations (§4.9, §5, §8 property 8 — "two concurrent pipeline
// runs targeting the same dependency root serialise on the install
// lock"). Within a single run the action graph already collapses
// duplicate InstallDependencies nodes for the same (toolchain, root) key
// into one node, so this only ever contends across processes.
//
// Grounded on §13's nightlyone/lockfile wiring: an advisory on-disk lock
// plays the same role as INTERNAL_MOON_INSTALLING_DEPS, but survives the
// "another process crashed mid-install" case that a bare env var cannot.
// acquireInstallLock also sets INTERNAL_MOON_INSTALLING_DEPS for the
// spawned install command's own child processes to see, matching §6.
func acquireInstallLock(toolchain, root string, logger hclog.Logger) (release func(), acquired bool) {
	path := installLockPath(toolchain, root)

	lock, err := lockfile.New(path)
	if err != nil {
		logger.Warn("install lock: could not construct lockfile, proceeding unlocked", "path", path, "error", err)
		return func() {}, true
	}

	if err := lock.TryLock(); err != nil {
		logger.Debug("install lock: busy, skipping install", "toolchain", toolchain, "root", root, "error", err)
		return nil, false
	}

	prevEnv, hadPrevEnv := os.LookupEnv("INTERNAL_MOON_INSTALLING_DEPS")
	os.Setenv("INTERNAL_MOON_INSTALLING_DEPS", strconv.Itoa(os.Getpid()))

	return func() {
		if hadPrevEnv {
			os.Setenv("INTERNAL_MOON_INSTALLING_DEPS", prevEnv)
		} else {
			os.Unsetenv("INTERNAL_MOON_INSTALLING_DEPS")
		}
		if err := lock.Unlock(); err != nil {
			logger.Warn("install lock: failed to release", "path", path, "error", err)
		}
	}, true
}

func installLockPath(toolchain, root string) string {
	sanitized := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(root)
	name := fmt.Sprintf("rift-install-%s-%s.lock", toolchain, sanitized)
	return filepath.Join(os.TempDir(), name)
}
