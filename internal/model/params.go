package model

import (
	"fmt"
	"strings"
)

const (
	// DefaultGapThreshold is substituted when no gap threshold is supplied.
	DefaultGapThreshold = 0.9
	// DefaultOutputName is the output filename when the caller does not
	// provide one.
	DefaultOutputName = "trimmed_aln.fna"
)

// TrimParams is the parameter set of one trim invocation. GapThreshold is a
// pointer so that an explicit 0 is distinguishable from "not provided"; only
// nil triggers the 0.9 default.
type TrimParams struct {
	AlnFasta       string       `yaml:"aln_fasta" json:"aln_fasta"`
	OutputFileName string       `yaml:"output_file_name,omitempty" json:"output_file_name,omitempty"`
	GapThreshold   *float64     `yaml:"gap_threshold,omitempty" json:"gap_threshold,omitempty"`
	TrimmingMode   TrimmingMode `yaml:"trimming_mode,omitempty" json:"trimming_mode,omitempty"`
}

// EffectiveThreshold returns the gap threshold to pass to ClipKIT.
func (p TrimParams) EffectiveThreshold() float64 {
	if p.GapThreshold == nil {
		return DefaultGapThreshold
	}
	return *p.GapThreshold
}

// EffectiveOutputName returns the output filename, defaulting when unset.
// A caller-supplied name is used verbatim.
func (p TrimParams) EffectiveOutputName() string {
	if p.OutputFileName == "" {
		return DefaultOutputName
	}
	return p.OutputFileName
}

// EffectiveMode returns the trimming mode, defaulting to smart-gap.
func (p TrimParams) EffectiveMode() TrimmingMode {
	if p.TrimmingMode == "" {
		return DefaultMode
	}
	return p.TrimmingMode
}

// Validate checks the parameter set before any file or process work starts.
func (p TrimParams) Validate() error {
	if strings.TrimSpace(p.AlnFasta) == "" {
		return fmt.Errorf("aln_fasta is required")
	}
	if p.GapThreshold != nil {
		if g := *p.GapThreshold; g < 0 || g > 1 {
			return fmt.Errorf("gap_threshold %v out of range [0, 1]", g)
		}
	}
	if p.TrimmingMode != "" {
		if _, err := ParseTrimmingMode(string(p.TrimmingMode)); err != nil {
			return err
		}
	}
	return nil
}
