package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/latch"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/trim"
)

func TestDeclare(t *testing.T) {
	d, err := Declare()
	require.NoError(t, err)

	require.Equal(t, "clipkit", d.Name)
	require.Equal(t, "Jacob L. Steenwyk", d.Author.Name)
	require.Contains(t, d.About, "Steenwyk et al. 2020")
	require.Contains(t, d.About, "smart-gap")

	byName := map[string]Parameter{}
	for _, p := range d.Parameters {
		byName[p.Name] = p
	}
	require.Len(t, byName, 4)

	require.True(t, byName["aln_fasta"].Required)
	require.Equal(t, ParamFile, byName["aln_fasta"].Type)
	require.Equal(t, "trimmed_aln.fna", byName["output_file_name"].Default)
	require.Equal(t, "0.9", byName["gap_threshold"].Default)

	mode := byName["trimming_mode"]
	require.Equal(t, "smart-gap", mode.Default)
	require.Len(t, mode.Choices, 8)
	require.Contains(t, mode.Choices, "kpic-smart-gap")
}

func TestRenderRoundTrip(t *testing.T) {
	d, err := Declare()
	require.NoError(t, err)

	out, err := d.Render()
	require.NoError(t, err)

	var got Declaration
	require.NoError(t, yaml.Unmarshal(out, &got))
	require.Equal(t, d, got)
}

// passRunner copies the input through so the workflow path can be exercised
// without the clipkit binary.
type passRunner struct {
	inv clipkit.Invocation
}

func (r *passRunner) Run(_ context.Context, inv clipkit.Invocation) error {
	r.inv = inv
	data, err := os.ReadFile(inv.InputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(inv.OutputPath, data, 0644)
}

func TestRunForwardsParamsUnchanged(t *testing.T) {
	store, err := latch.NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	workDir := t.TempDir()

	in := filepath.Join(t.TempDir(), "aln.fna")
	require.NoError(t, os.WriteFile(in, []byte(">s1\nAC-GT\n>s2\nACAGT\n"), 0644))

	runner := &passRunner{}
	wf := New(trim.New(runner, store, workDir, nil, "info"))

	threshold := 0.4
	res, err := wf.Run(context.Background(), "wf-1", model.TrimParams{
		AlnFasta:     in,
		GapThreshold: &threshold,
		TrimmingMode: model.ModeKPIGappy,
	})
	require.NoError(t, err)

	require.Equal(t, model.ModeKPIGappy, runner.inv.Mode)
	require.Equal(t, 0.4, runner.inv.GapThreshold)
	require.Equal(t, 2, res.Records)
	require.Equal(t, fmt.Sprintf("latch:///%s", model.DefaultOutputName), res.Output.RemoteURI)
}
