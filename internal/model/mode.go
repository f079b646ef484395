// Package model defines the data structures for trimwf's configuration, trim
// parameters, task spool entries, and results.
package model

import "fmt"

// TrimmingMode selects the ClipKIT trimming strategy. The string value is
// passed verbatim as the -m flag of the external binary.
type TrimmingMode string

const (
	ModeGappy        TrimmingMode = "gappy"
	ModeSmartGap     TrimmingMode = "smart-gap"
	ModeKPI          TrimmingMode = "kpi"
	ModeKPIGappy     TrimmingMode = "kpi-gappy"
	ModeKPISmartGap  TrimmingMode = "kpi-smart-gap"
	ModeKPIC         TrimmingMode = "kpic"
	ModeKPICGappy    TrimmingMode = "kpic-gappy"
	ModeKPICSmartGap TrimmingMode = "kpic-smart-gap"
)

// DefaultMode is used when no mode is supplied. ClipKIT recommends smart-gap
// when the caller is unsure which mode is appropriate.
const DefaultMode = ModeSmartGap

// Modes returns all eight accepted trimming modes in a fixed order.
func Modes() []TrimmingMode {
	return []TrimmingMode{
		ModeSmartGap,
		ModeGappy,
		ModeKPIC,
		ModeKPICSmartGap,
		ModeKPICGappy,
		ModeKPI,
		ModeKPISmartGap,
		ModeKPIGappy,
	}
}

// ParseTrimmingMode validates s against the closed set of modes.
func ParseTrimmingMode(s string) (TrimmingMode, error) {
	for _, m := range Modes() {
		if s == string(m) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown trimming mode %q (run 'trimwf modes' for the accepted values)", s)
}

func (m TrimmingMode) String() string {
	return string(m)
}

// Description returns the one-line explanation shown in the workflow UI.
func (m TrimmingMode) Description() string {
	switch m {
	case ModeSmartGap:
		return "dynamic determination of gaps threshold"
	case ModeGappy:
		return "trim all sites that are above a threshold of gappyness (default: 0.9)"
	case ModeKPIC:
		return "keep only parsimony informative and constant sites"
	case ModeKPICSmartGap:
		return "a combination of kpic- and smart-gap-based trimming"
	case ModeKPICGappy:
		return "a combination of kpic- and gappy-based trimming"
	case ModeKPI:
		return "keep only parsimony informative sites"
	case ModeKPISmartGap:
		return "a combination of kpi- and smart-gap-based trimming"
	case ModeKPIGappy:
		return "a combination of kpi- and gappy-based trimming"
	default:
		return ""
	}
}
