// Package trim implements the ClipKIT trimming task: resolve the input
// alignment, apply parameter defaults, invoke the external binary, validate
// its output, and stage the trimmed alignment as a platform file handle.
package trim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/fasta"
	"github.com/jlsteenwyk/trimwf/internal/latch"
	"github.com/jlsteenwyk/trimwf/internal/model"
)

// ErrInputNotFound indicates the input alignment does not exist, either as a
// local path or as a store object.
var ErrInputNotFound = errors.New("input alignment not found")

// ErrEmptyOutput indicates clipkit exited zero but left no usable output.
var ErrEmptyOutput = errors.New("trim produced no output file")

// Request is one trim execution.
type Request struct {
	TaskID string
	Params model.TrimParams
}

// Result describes a successful trim.
type Result struct {
	Output      latch.File
	Records     int
	InputWidth  int
	OutputWidth int
	Duration    time.Duration
}

// Task executes trim requests. The clipkit runner is injected so tests can
// substitute a fake trimmer.
type Task struct {
	runner   clipkit.Runner
	store    *latch.Store
	workDir  string
	logger   *log.Logger
	logLevel LogLevel
}

// New creates a Task whose scratch files live under workDir.
func New(runner clipkit.Runner, store *latch.Store, workDir string, logw io.Writer, logLevel string) *Task {
	if logw == nil {
		logw = io.Discard
	}
	return &Task{
		runner:   runner,
		store:    store,
		workDir:  workDir,
		logger:   log.New(logw, "", 0),
		logLevel: parseLogLevel(logLevel),
	}
}

// Run executes one trim synchronously.
func (t *Task) Run(ctx context.Context, req Request) (*Result, error) {
	params := req.Params
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("validate params: %w", err)
	}

	inputPath, err := t.resolveInput(params.AlnFasta)
	if err != nil {
		t.log(LogLevelError, "trim_input_error task_id=%s input=%s error=%v", req.TaskID, params.AlnFasta, err)
		return nil, err
	}

	inRecs, inWidth, err := fasta.ReadAligned(inputPath)
	if err != nil {
		return nil, fmt.Errorf("read input alignment: %w", err)
	}

	outputPath := t.outputPath(params)
	inv := clipkit.Invocation{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		Mode:         params.EffectiveMode(),
		GapThreshold: params.EffectiveThreshold(),
	}

	t.log(LogLevelInfo, "trim_start task_id=%s mode=%s gap_threshold=%s records=%d width=%d",
		req.TaskID, inv.Mode, clipkit.FormatThreshold(inv.GapThreshold), len(inRecs), inWidth)

	start := time.Now()
	if err := t.runner.Run(ctx, inv); err != nil {
		t.log(LogLevelError, "trim_failure task_id=%s mode=%s error=%v", req.TaskID, inv.Mode, err)
		return nil, fmt.Errorf("clipkit %s: %w", inv.Mode, err)
	}
	elapsed := time.Since(start)

	outRecs, outWidth, err := t.validateOutput(outputPath, inRecs, inWidth)
	if err != nil {
		t.log(LogLevelError, "trim_output_invalid task_id=%s output=%s error=%v", req.TaskID, outputPath, err)
		return nil, err
	}

	handle, err := t.store.Stage(outputPath, latch.URIForPath(params.EffectiveOutputName()))
	if err != nil {
		return nil, fmt.Errorf("stage trimmed alignment: %w", err)
	}

	t.log(LogLevelInfo, "trim_success task_id=%s output_uri=%s records=%d width=%d duration_ms=%d",
		req.TaskID, handle.RemoteURI, len(outRecs), outWidth, elapsed.Milliseconds())

	return &Result{
		Output:      handle,
		Records:     len(outRecs),
		InputWidth:  inWidth,
		OutputWidth: outWidth,
		Duration:    elapsed,
	}, nil
}

// resolveInput turns the aln_fasta parameter into a readable local path.
// latch:/// URIs are staged out of the store; anything else is a local path.
func (t *Task) resolveInput(input string) (string, error) {
	if latch.IsURI(input) {
		localPath, err := t.store.Resolve(input, t.workDir)
		if err != nil {
			if errors.Is(err, latch.ErrObjectNotFound) {
				return "", fmt.Errorf("%w: %s", ErrInputNotFound, input)
			}
			return "", fmt.Errorf("resolve input: %w", err)
		}
		return localPath, nil
	}

	if _, err := os.Stat(input); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrInputNotFound, input)
		}
		return "", fmt.Errorf("stat input: %w", err)
	}
	return input, nil
}

// outputPath places the default output name under the task work directory.
// A caller-supplied name is used verbatim, relative names included.
func (t *Task) outputPath(params model.TrimParams) string {
	name := params.EffectiveOutputName()
	if params.OutputFileName == "" {
		return filepath.Join(t.workDir, name)
	}
	return name
}

// validateOutput confirms the trimmed alignment is present, non-empty, and
// consistent with the input: same records in the same order, width not grown.
func (t *Task) validateOutput(path string, inRecs []fasta.Record, inWidth int) ([]fasta.Record, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrEmptyOutput, path)
		}
		return nil, 0, fmt.Errorf("stat output: %w", err)
	}
	if info.Size() == 0 {
		return nil, 0, fmt.Errorf("%w: %s is empty", ErrEmptyOutput, path)
	}

	outRecs, outWidth, err := fasta.ReadAligned(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read trimmed alignment: %w", err)
	}

	if len(outRecs) != len(inRecs) {
		return nil, 0, fmt.Errorf("trimmed alignment has %d records, input had %d", len(outRecs), len(inRecs))
	}
	for i := range outRecs {
		if outRecs[i].ID != inRecs[i].ID {
			return nil, 0, fmt.Errorf("record %d: identifier %q does not match input %q", i, outRecs[i].ID, inRecs[i].ID)
		}
	}
	if outWidth > inWidth {
		return nil, 0, fmt.Errorf("trimmed alignment is wider than input (%d > %d)", outWidth, inWidth)
	}

	return outRecs, outWidth, nil
}

// --- Logging ---

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (t *Task) log(level LogLevel, format string, args ...any) {
	if level < t.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	t.logger.Printf("%s %s trim_task: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
