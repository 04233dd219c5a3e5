//go:build windows

package transport

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setPlatformAttrs suppresses the console window Windows would otherwise
// pop for each spawned adb subprocess. CREATE_NO_WINDOW is more reliable
// than SysProcAttr.HideWindow alone for a console-less child spawned from
// a GUI-less CLI host.
func setPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
