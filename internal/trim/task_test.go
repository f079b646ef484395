package trim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/fasta"
	"github.com/jlsteenwyk/trimwf/internal/latch"
	"github.com/jlsteenwyk/trimwf/internal/model"
)

// fakeRunner stands in for the clipkit binary. It applies gappy-style column
// removal (drop columns whose gap fraction exceeds the threshold) so trim
// output has the same shape properties as real ClipKIT output.
type fakeRunner struct {
	invocations []clipkit.Invocation
	err         error
	skipOutput  bool
	writeEmpty  bool
}

func (f *fakeRunner) Run(_ context.Context, inv clipkit.Invocation) error {
	f.invocations = append(f.invocations, inv)
	if f.err != nil {
		return f.err
	}
	if f.skipOutput {
		return nil
	}
	if f.writeEmpty {
		return os.WriteFile(inv.OutputPath, nil, 0644)
	}

	recs, width, err := fasta.ReadAligned(inv.InputPath)
	if err != nil {
		return err
	}

	var keep []int
	for c := 0; c < width; c++ {
		gaps := 0
		for _, r := range recs {
			if r.Seq[c] == '-' {
				gaps++
			}
		}
		if float64(gaps)/float64(len(recs)) <= inv.GapThreshold {
			keep = append(keep, c)
		}
	}

	var sb strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&sb, ">%s\n", r.ID)
		for _, c := range keep {
			sb.WriteByte(r.Seq[c])
		}
		sb.WriteByte('\n')
	}
	return os.WriteFile(inv.OutputPath, []byte(sb.String()), 0644)
}

func newTestTask(t *testing.T, runner clipkit.Runner) (*Task, *latch.Store, string) {
	t.Helper()
	store, err := latch.NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	workDir := t.TempDir()
	return New(runner, store, workDir, nil, "debug"), store, workDir
}

func writeAlignment(t *testing.T, recs map[string]string, order []string) string {
	t.Helper()
	var sb strings.Builder
	for _, id := range order {
		fmt.Fprintf(&sb, ">%s\n%s\n", id, recs[id])
	}
	path := filepath.Join(t.TempDir(), "aln.fna")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
	return path
}

func TestRunAppliesDefaults(t *testing.T) {
	runner := &fakeRunner{}
	task, _, workDir := newTestTask(t, runner)

	in := writeAlignment(t, map[string]string{"s1": "AC-GT", "s2": "ACAGT"}, []string{"s1", "s2"})
	res, err := task.Run(context.Background(), Request{TaskID: "t-1", Params: model.TrimParams{AlnFasta: in}})
	require.NoError(t, err)

	require.Len(t, runner.invocations, 1)
	inv := runner.invocations[0]
	require.Equal(t, model.ModeSmartGap, inv.Mode)
	require.Equal(t, 0.9, inv.GapThreshold)
	require.Equal(t, filepath.Join(workDir, "trimmed_aln.fna"), inv.OutputPath)
	require.Equal(t, "latch:///trimmed_aln.fna", res.Output.RemoteURI)
}

func TestRunExplicitZeroThresholdKept(t *testing.T) {
	runner := &fakeRunner{}
	task, _, _ := newTestTask(t, runner)

	zero := 0.0
	in := writeAlignment(t, map[string]string{"s1": "ACGT", "s2": "ACGA"}, []string{"s1", "s2"})
	_, err := task.Run(context.Background(), Request{
		TaskID: "t-1",
		Params: model.TrimParams{AlnFasta: in, GapThreshold: &zero, TrimmingMode: model.ModeGappy},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, runner.invocations[0].GapThreshold)
}

func TestRunOutputNameUsedVerbatim(t *testing.T) {
	runner := &fakeRunner{}
	task, _, _ := newTestTask(t, runner)

	out := filepath.Join(t.TempDir(), "my_trim.fasta")
	in := writeAlignment(t, map[string]string{"s1": "ACGT", "s2": "ACGA"}, []string{"s1", "s2"})
	res, err := task.Run(context.Background(), Request{
		TaskID: "t-1",
		Params: model.TrimParams{AlnFasta: in, OutputFileName: out},
	})
	require.NoError(t, err)
	require.Equal(t, out, runner.invocations[0].OutputPath)
	require.FileExists(t, out)
	require.Equal(t, latch.URIForPath(out), res.Output.RemoteURI)
}

func TestRunInputNotFound(t *testing.T) {
	task, _, _ := newTestTask(t, &fakeRunner{})

	t.Run("local path", func(t *testing.T) {
		_, err := task.Run(context.Background(), Request{
			TaskID: "t-1",
			Params: model.TrimParams{AlnFasta: filepath.Join(t.TempDir(), "missing.fna")},
		})
		require.ErrorIs(t, err, ErrInputNotFound)
	})

	t.Run("store URI", func(t *testing.T) {
		_, err := task.Run(context.Background(), Request{
			TaskID: "t-2",
			Params: model.TrimParams{AlnFasta: "latch:///missing.fna"},
		})
		require.ErrorIs(t, err, ErrInputNotFound)
	})
}

func TestRunInputResolvedFromStore(t *testing.T) {
	runner := &fakeRunner{}
	task, store, _ := newTestTask(t, runner)

	local := writeAlignment(t, map[string]string{"s1": "AC-GT", "s2": "ACAGT"}, []string{"s1", "s2"})
	_, err := store.Stage(local, "latch:///uploads/aln.fna")
	require.NoError(t, err)

	res, err := task.Run(context.Background(), Request{
		TaskID: "t-1",
		Params: model.TrimParams{AlnFasta: "latch:///uploads/aln.fna"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Records)
}

func TestRunTrimFailureSurfaced(t *testing.T) {
	trimErr := &clipkit.TrimError{ExitCode: 2, Stderr: "ERROR: unaligned input"}
	task, _, _ := newTestTask(t, &fakeRunner{err: trimErr})

	in := writeAlignment(t, map[string]string{"s1": "ACGT", "s2": "ACGA"}, []string{"s1", "s2"})
	_, err := task.Run(context.Background(), Request{TaskID: "t-1", Params: model.TrimParams{AlnFasta: in}})

	var got *clipkit.TrimError
	require.ErrorAs(t, err, &got)
	require.Contains(t, err.Error(), "unaligned input")
}

func TestRunOutputValidation(t *testing.T) {
	in := writeAlignment(t, map[string]string{"s1": "ACGT", "s2": "ACGA"}, []string{"s1", "s2"})

	t.Run("missing output", func(t *testing.T) {
		task, _, _ := newTestTask(t, &fakeRunner{skipOutput: true})
		_, err := task.Run(context.Background(), Request{TaskID: "t-1", Params: model.TrimParams{AlnFasta: in}})
		require.ErrorIs(t, err, ErrEmptyOutput)
	})

	t.Run("empty output", func(t *testing.T) {
		task, _, _ := newTestTask(t, &fakeRunner{writeEmpty: true})
		_, err := task.Run(context.Background(), Request{TaskID: "t-1", Params: model.TrimParams{AlnFasta: in}})
		require.ErrorIs(t, err, ErrEmptyOutput)
	})
}

// Four sequences of length 100, every column below 90% gaps, mode gappy:
// the output must keep all 4 records, the identifiers in order, and never
// grow the alignment.
func TestRunEndToEndGappy(t *testing.T) {
	base := strings.Repeat("ACGTACGTAC", 10) // length 100
	gappy := "----" + base[4:]               // a few leading gaps, 1/4 < 0.9 per column

	order := []string{"tip_a", "tip_b", "tip_c", "tip_d"}
	recs := map[string]string{
		"tip_a": base,
		"tip_b": gappy,
		"tip_c": base,
		"tip_d": base,
	}
	in := writeAlignment(t, recs, order)

	runner := &fakeRunner{}
	task, store, _ := newTestTask(t, runner)

	res, err := task.Run(context.Background(), Request{
		TaskID: "t-e2e",
		Params: model.TrimParams{AlnFasta: in, TrimmingMode: model.ModeGappy},
	})
	require.NoError(t, err)

	require.Equal(t, 4, res.Records)
	require.Equal(t, 100, res.InputWidth)
	require.LessOrEqual(t, res.OutputWidth, 100)

	outRecs, _, err := fasta.ReadAligned(res.Output.LocalPath)
	require.NoError(t, err)
	require.Equal(t, order, fasta.IDs(outRecs))

	// The staged object matches the local output.
	resolved, err := store.Resolve(res.Output.RemoteURI, t.TempDir())
	require.NoError(t, err)
	local, err := os.ReadFile(res.Output.LocalPath)
	require.NoError(t, err)
	staged, err := os.ReadFile(resolved)
	require.NoError(t, err)
	require.Equal(t, local, staged)
}

// Columns that are pure gaps must disappear, and what remains must be the
// input minus those columns. Trimming never invents columns.
func TestRunTrimsColumnsAsSubset(t *testing.T) {
	order := []string{"s1", "s2", "s3", "s4"}
	recs := map[string]string{
		"s1": "A-CG-T",
		"s2": "A-CG-A",
		"s3": "A-CG-C",
		"s4": "A-CG-G",
	}
	in := writeAlignment(t, recs, order)

	runner := &fakeRunner{}
	task, _, _ := newTestTask(t, runner)

	res, err := task.Run(context.Background(), Request{
		TaskID: "t-sub",
		Params: model.TrimParams{AlnFasta: in, TrimmingMode: model.ModeGappy},
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.Records)
	require.Equal(t, 4, res.OutputWidth) // columns 2 and 5 are all gaps

	outRecs, _, err := fasta.ReadAligned(res.Output.LocalPath)
	require.NoError(t, err)
	require.Equal(t, "ACGT", string(outRecs[0].Seq))
	require.Equal(t, "ACGA", string(outRecs[1].Seq))
	require.Equal(t, "ACGC", string(outRecs[2].Seq))
	require.Equal(t, "ACGG", string(outRecs[3].Seq))
}

func TestRunRejectsInvalidParams(t *testing.T) {
	task, _, _ := newTestTask(t, &fakeRunner{})

	_, err := task.Run(context.Background(), Request{TaskID: "t-1", Params: model.TrimParams{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "aln_fasta is required")

	bad := 1.5
	_, err = task.Run(context.Background(), Request{
		TaskID: "t-2",
		Params: model.TrimParams{AlnFasta: "aln.fna", GapThreshold: &bad},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}
