package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/events"
	"github.com/jlsteenwyk/trimwf/internal/lock"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/trim"
	yamlutil "github.com/jlsteenwyk/trimwf/internal/yaml"
)

// QueueHandler routes fsnotify events, scans the task spool, and executes
// pending trims. Identical concurrent submissions are collapsed through
// singleflight keyed on the clipkit invocation fingerprint.
type QueueHandler struct {
	trimwfDir string
	config    model.Config
	task      *trim.Task
	lockMap   *lock.MutexMap
	bus       *events.Bus
	audit     *events.AuditLogger
	logger    *log.Logger
	logLevel  LogLevel

	group singleflight.Group

	// Debounce state
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	// Serializes full scans
	scanMu sync.Mutex
}

// NewQueueHandler creates a QueueHandler executing through the given task.
func NewQueueHandler(trimwfDir string, cfg model.Config, task *trim.Task, lockMap *lock.MutexMap, bus *events.Bus, audit *events.AuditLogger, logger *log.Logger, logLevel LogLevel) *QueueHandler {
	return &QueueHandler{
		trimwfDir: trimwfDir,
		config:    cfg,
		task:      task,
		lockMap:   lockMap,
		bus:       bus,
		audit:     audit,
		logger:    logger,
		logLevel:  logLevel,
	}
}

// HandleFileEvent debounces spool change events into a scan.
func (qh *QueueHandler) HandleFileEvent(ctx context.Context, filePath string) {
	if filepath.Base(filepath.Dir(filePath)) != "queue" || !strings.HasSuffix(filePath, ".yaml") {
		return
	}

	debounceSec := qh.config.Watcher.DebounceSec
	if debounceSec <= 0 {
		debounceSec = 0.5
	}

	qh.debounceMu.Lock()
	defer qh.debounceMu.Unlock()

	if qh.debounceTimer != nil {
		qh.debounceTimer.Stop()
	}

	qh.debounceTimer = time.AfterFunc(
		time.Duration(debounceSec*float64(time.Second)),
		func() {
			qh.log(LogLevelDebug, "debounced_scan trigger=%s", filepath.Base(filePath))
			qh.PeriodicScan(ctx)
		},
	)
}

// PeriodicScan loads every spool file under queue/ and executes its pending
// tasks in order. Corrupt spool files are quarantined rather than retried.
func (qh *QueueHandler) PeriodicScan(ctx context.Context) {
	qh.scanMu.Lock()
	defer qh.scanMu.Unlock()

	qh.log(LogLevelDebug, "periodic_scan start")

	queueDir := filepath.Join(qh.trimwfDir, "queue")
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		if !os.IsNotExist(err) {
			qh.log(LogLevelWarn, "read_queue_dir error=%v", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		qh.scanSpoolFile(ctx, filepath.Join(queueDir, entry.Name()))
	}

	qh.log(LogLevelDebug, "periodic_scan complete")
}

// scanSpoolFile processes one spool file under its per-file mutex.
func (qh *QueueHandler) scanSpoolFile(ctx context.Context, path string) {
	qh.lockMap.Lock(path)
	defer qh.lockMap.Unlock(path)

	var qf model.TaskQueueFile
	loaded, err := yamlutil.Load(path, model.TaskQueueFileType, qh.config.Limits.MaxYAMLFileBytes, &qf)
	if err != nil {
		qh.recoverSpool(path, err, model.NewTaskQueueFile())
		return
	}
	if !loaded {
		return
	}

	dirty := false
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		if t.Status != model.StatusPending {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		now := time.Now().UTC().Format(time.RFC3339)
		t.Status = model.StatusInProgress
		t.Attempts++
		t.UpdatedAt = now
		if err := yamlutil.AtomicWrite(path, qf); err != nil {
			qh.log(LogLevelError, "write_spool file=%s error=%v", path, err)
			return
		}

		_, runErr := qh.Execute(ctx, t.ID, t.Submitter, t.Params)
		if runErr != nil {
			t.Status = model.StatusFailed
		} else {
			t.Status = model.StatusCompleted
		}
		t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		dirty = true
	}

	if dirty {
		if err := yamlutil.AtomicWrite(path, qf); err != nil {
			qh.log(LogLevelError, "write_spool file=%s error=%v", path, err)
		}
	}
}

// recoverSpool moves an unreadable spool file aside, then puts a usable file
// back in its place: the .bak left by the last atomic write when it still
// validates, otherwise a fresh skeleton.
func (qh *QueueHandler) recoverSpool(path string, cause error, skeleton interface{}) {
	qh.log(LogLevelError, "spool_corrupt file=%s error=%v", path, cause)
	dest, qerr := yamlutil.Quarantine(qh.trimwfDir, path)
	if qerr != nil {
		qh.log(LogLevelError, "quarantine_failed file=%s error=%v", path, qerr)
		return
	}
	qh.log(LogLevelWarn, "spool_quarantined file=%s dest=%s", path, dest)
	if qh.audit != nil {
		qh.audit.Log("spool_quarantined", map[string]interface{}{
			"file": filepath.Base(path),
			"dest": dest,
		})
	}

	if err := yamlutil.RestoreFromBackup(path); err == nil {
		qh.log(LogLevelWarn, "spool_restored file=%s", path)
		if qh.audit != nil {
			qh.audit.Log("spool_restored", map[string]interface{}{
				"file": filepath.Base(path),
			})
		}
		return
	}

	if skeleton == nil {
		return
	}
	if err := yamlutil.AtomicWrite(path, skeleton); err != nil {
		qh.log(LogLevelError, "spool_reset_failed file=%s error=%v", path, err)
		return
	}
	qh.log(LogLevelWarn, "spool_reset file=%s", path)
}

// Execute runs one trim and records its result. Concurrent calls with the
// same effective invocation share a single clipkit run.
func (qh *QueueHandler) Execute(ctx context.Context, taskID, submitter string, params model.TrimParams) (*trim.Result, error) {
	qh.publish(events.EventTaskStarted, taskID, params, nil, nil)
	qh.log(LogLevelInfo, "task_start task_id=%s mode=%s", taskID, params.EffectiveMode())

	key := fingerprint(params)
	v, err, shared := qh.group.Do(key, func() (interface{}, error) {
		return qh.task.Run(ctx, trim.Request{TaskID: taskID, Params: params})
	})
	if shared {
		qh.log(LogLevelInfo, "task_collapsed task_id=%s fingerprint=%s", taskID, key[:12])
	}

	if err != nil {
		qh.recordResult(taskID, params, nil, err)
		qh.publish(events.EventTaskFailed, taskID, params, nil, err)
		return nil, err
	}

	res := v.(*trim.Result)
	qh.recordResult(taskID, params, res, nil)
	qh.publish(events.EventTaskCompleted, taskID, params, res, nil)
	return res, nil
}

// fingerprint keys singleflight on the effective invocation, so two
// submissions differing only in unset-vs-default fields still collapse.
func fingerprint(params model.TrimParams) string {
	return clipkit.Invocation{
		InputPath:    params.AlnFasta,
		OutputPath:   params.EffectiveOutputName(),
		Mode:         params.EffectiveMode(),
		GapThreshold: params.EffectiveThreshold(),
	}.Fingerprint()
}

// recordResult appends one result row to results/tasks.yaml.
func (qh *QueueHandler) recordResult(taskID string, params model.TrimParams, res *trim.Result, runErr error) {
	path := filepath.Join(qh.trimwfDir, "results", "tasks.yaml")
	qh.lockMap.Lock(path)
	defer qh.lockMap.Unlock(path)

	rf := model.NewTaskResultFile()
	if _, err := yamlutil.Load(path, model.TaskResultFileType, qh.config.Limits.MaxYAMLFileBytes, rf); err != nil {
		qh.recoverSpool(path, err, model.NewTaskResultFile())
		rf = model.NewTaskResultFile()
		if _, err := yamlutil.Load(path, model.TaskResultFileType, qh.config.Limits.MaxYAMLFileBytes, rf); err != nil {
			rf = model.NewTaskResultFile()
		}
	}

	row := model.TaskResult{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if runErr != nil {
		row.Status = model.StatusFailed
		row.Error = runErr.Error()
	} else {
		row.Status = model.StatusCompleted
		row.OutputURI = res.Output.RemoteURI
		row.OutputPath = res.Output.LocalPath
		row.Records = res.Records
		row.InputWidth = res.InputWidth
		row.OutputWidth = res.OutputWidth
		row.DurationSec = res.Duration.Seconds()
	}
	rf.Results = append(rf.Results, row)

	if err := yamlutil.AtomicWrite(path, rf); err != nil {
		qh.log(LogLevelError, "write_results error=%v", err)
	}
}

// LookupResult returns the most recent recorded result for a task.
func (qh *QueueHandler) LookupResult(taskID string) (*model.TaskResult, bool) {
	path := filepath.Join(qh.trimwfDir, "results", "tasks.yaml")
	qh.lockMap.Lock(path)
	defer qh.lockMap.Unlock(path)

	rf := model.NewTaskResultFile()
	loaded, err := yamlutil.Load(path, model.TaskResultFileType, qh.config.Limits.MaxYAMLFileBytes, rf)
	if err != nil || !loaded {
		return nil, false
	}
	for i := len(rf.Results) - 1; i >= 0; i-- {
		if rf.Results[i].TaskID == taskID {
			return &rf.Results[i], true
		}
	}
	return nil, false
}

// LookupSpooled returns the spool entry for a task if one exists.
func (qh *QueueHandler) LookupSpooled(taskID string) (*model.Task, bool) {
	queueDir := filepath.Join(qh.trimwfDir, "queue")
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return nil, false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(queueDir, entry.Name())

		qh.lockMap.Lock(path)
		var qf model.TaskQueueFile
		loaded, err := yamlutil.Load(path, model.TaskQueueFileType, qh.config.Limits.MaxYAMLFileBytes, &qf)
		qh.lockMap.Unlock(path)
		if err != nil || !loaded {
			continue
		}
		for i := range qf.Tasks {
			if qf.Tasks[i].ID == taskID {
				return &qf.Tasks[i], true
			}
		}
	}
	return nil, false
}

// HasActiveFingerprint reports whether a pending or running spool entry
// already matches the given parameters.
func (qh *QueueHandler) HasActiveFingerprint(params model.TrimParams) bool {
	key := fingerprint(params)
	queueDir := filepath.Join(qh.trimwfDir, "queue")
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(queueDir, entry.Name())

		qh.lockMap.Lock(path)
		var qf model.TaskQueueFile
		loaded, err := yamlutil.Load(path, model.TaskQueueFileType, qh.config.Limits.MaxYAMLFileBytes, &qf)
		qh.lockMap.Unlock(path)
		if err != nil || !loaded {
			continue
		}
		for i := range qf.Tasks {
			t := &qf.Tasks[i]
			if t.Status.IsTerminal() {
				continue
			}
			if fingerprint(t.Params) == key {
				return true
			}
		}
	}
	return false
}

func (qh *QueueHandler) publish(eventType events.EventType, taskID string, params model.TrimParams, res *trim.Result, runErr error) {
	details := map[string]interface{}{
		"task_id": taskID,
		"mode":    string(params.EffectiveMode()),
	}
	if res != nil {
		details["output_uri"] = res.Output.RemoteURI
		details["records"] = res.Records
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}

	if qh.bus != nil {
		qh.bus.Publish(eventType, details)
	}
	if qh.audit != nil {
		if err := qh.audit.Log(string(eventType), details); err != nil {
			qh.log(LogLevelWarn, "audit_write error=%v", err)
		}
	}
}

func (qh *QueueHandler) log(level LogLevel, format string, args ...any) {
	if level < qh.logLevel {
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
	qh.logger.Printf("%s %s queue_handler: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
