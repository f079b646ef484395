// Package clipkit builds and executes invocations of the external ClipKIT
// binary. The trimming algorithms live entirely inside that binary; this
// package only marshals parameters onto its command line and interprets its
// exit status.
package clipkit

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/jlsteenwyk/trimwf/internal/model"
)

// Invocation is one fully-resolved clipkit command: all defaults have been
// applied by the caller.
type Invocation struct {
	InputPath    string
	OutputPath   string
	Mode         model.TrimmingMode
	GapThreshold float64
}

// Args returns the argument list passed to the binary:
//
//	clipkit <input> -o <output> -m <mode> -g <threshold>
//
// The -g flag is always present; ClipKIT ignores it under smart-gap modes.
func (inv Invocation) Args() []string {
	return []string{
		inv.InputPath,
		"-o", inv.OutputPath,
		"-m", inv.Mode.String(),
		"-g", FormatThreshold(inv.GapThreshold),
	}
}

// FormatThreshold renders a gap threshold with the fewest digits that
// round-trip, so 0.9 stays "0.9" and 0 stays "0".
func FormatThreshold(g float64) string {
	return strconv.FormatFloat(g, 'f', -1, 64)
}

// Fingerprint returns a stable hash of the invocation, used to collapse
// duplicate concurrent submissions of the same trim.
func (inv Invocation) Fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join(inv.Args(), "\x00")))
	return fmt.Sprintf("%x", h)
}
