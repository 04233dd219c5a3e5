//go:build !windows

package transport

import "os/exec"

// setPlatformAttrs is a no-op on Unix-like hosts, which never pop a
// console window for a spawned subprocess.
func setPlatformAttrs(cmd *exec.Cmd) {}
