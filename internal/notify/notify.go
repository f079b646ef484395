// Package notify provides desktop notification support for finished trims.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send raises a desktop notification: osascript on macOS, notify-send
// elsewhere. Errors are returned so callers can log and move on; a missing
// notifier is not fatal.
func Send(title, message string) error {
	if runtime.GOOS == "darwin" {
		return sendOsascript(title, message)
	}
	return sendNotifySend(title, message)
}

func sendOsascript(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
