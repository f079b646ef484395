package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/events"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/trim"
	"github.com/jlsteenwyk/trimwf/internal/uds"
	yamlutil "github.com/jlsteenwyk/trimwf/internal/yaml"
)

// SubmitParams is the request payload for the submit UDS command.
type SubmitParams struct {
	Params    model.TrimParams `json:"params"`
	Submitter string           `json:"submitter,omitempty"`
	// Detach spools the task for the scan loop instead of trimming inline.
	Detach bool `json:"detach,omitempty"`
}

// SubmitResult is the response payload for a synchronous submit.
type SubmitResult struct {
	TaskID      string  `json:"task_id"`
	Status      string  `json:"status"`
	OutputURI   string  `json:"output_uri,omitempty"`
	OutputPath  string  `json:"output_path,omitempty"`
	Records     int     `json:"records,omitempty"`
	InputWidth  int     `json:"input_width,omitempty"`
	OutputWidth int     `json:"output_width,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// StatusParams is the request payload for the status UDS command.
type StatusParams struct {
	TaskID string `json:"task_id"`
}

// StatusResult is the response payload for the status UDS command.
type StatusResult struct {
	TaskID string            `json:"task_id"`
	Status string            `json:"status"`
	Result *model.TaskResult `json:"result,omitempty"`
}

func (d *Daemon) handleSubmit(req *uds.Request) *uds.Response {
	var params SubmitParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if err := params.Params.Validate(); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	taskID := uuid.NewString()
	d.handler.publish(events.EventTaskSubmitted, taskID, params.Params, nil, nil)

	if params.Detach {
		if d.handler.HasActiveFingerprint(params.Params) {
			return uds.ErrorResponse(uds.ErrCodeDuplicate, "an identical task is already pending")
		}
		if resp := d.spoolTask(taskID, params); resp != nil {
			return resp
		}
		d.log(LogLevelInfo, "submit_spooled task_id=%s", taskID)
		return uds.SuccessResponse(SubmitResult{TaskID: taskID, Status: string(model.StatusPending)})
	}

	res, err := d.handler.Execute(d.ctx, taskID, params.Submitter, params.Params)
	if err != nil {
		return trimErrorResponse(err)
	}

	return uds.SuccessResponse(SubmitResult{
		TaskID:      taskID,
		Status:      string(model.StatusCompleted),
		OutputURI:   res.Output.RemoteURI,
		OutputPath:  res.Output.LocalPath,
		Records:     res.Records,
		InputWidth:  res.InputWidth,
		OutputWidth: res.OutputWidth,
		DurationSec: res.Duration.Seconds(),
	})
}

// spoolTask appends a pending entry to queue/tasks.yaml. The duplicate check
// runs again under the file mutex so two concurrent detached submits cannot
// both pass the handleSubmit pre-check and both spool.
func (d *Daemon) spoolTask(taskID string, params SubmitParams) *uds.Response {
	path := filepath.Join(d.trimwfDir, "queue", "tasks.yaml")
	d.lockMap.Lock(path)
	defer d.lockMap.Unlock(path)

	qf := model.NewTaskQueueFile()
	if _, err := yamlutil.Load(path, model.TaskQueueFileType, d.config.Limits.MaxYAMLFileBytes, qf); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("load queue: %v", err))
	}

	key := fingerprint(params.Params)
	for i := range qf.Tasks {
		t := &qf.Tasks[i]
		if !t.Status.IsTerminal() && fingerprint(t.Params) == key {
			return uds.ErrorResponse(uds.ErrCodeDuplicate, "an identical task is already pending")
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	qf.Tasks = append(qf.Tasks, model.Task{
		ID:        taskID,
		Params:    params.Params,
		Status:    model.StatusPending,
		Submitter: params.Submitter,
		CreatedAt: now,
		UpdatedAt: now,
	})

	if err := yamlutil.AtomicWrite(path, qf); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("write queue: %v", err))
	}
	return nil
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	var params StatusParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.TaskID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "task_id is required")
	}

	if res, ok := d.handler.LookupResult(params.TaskID); ok {
		return uds.SuccessResponse(StatusResult{
			TaskID: params.TaskID,
			Status: string(res.Status),
			Result: res,
		})
	}
	if t, ok := d.handler.LookupSpooled(params.TaskID); ok {
		return uds.SuccessResponse(StatusResult{
			TaskID: params.TaskID,
			Status: string(t.Status),
		})
	}
	return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("unknown task: %s", params.TaskID))
}

// ModeInfo is one entry in the modes response.
type ModeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default,omitempty"`
}

func (d *Daemon) handleModes(req *uds.Request) *uds.Response {
	var infos []ModeInfo
	for _, m := range model.Modes() {
		infos = append(infos, ModeInfo{
			Name:        string(m),
			Description: m.Description(),
			Default:     m == model.DefaultMode,
		})
	}
	return uds.SuccessResponse(infos)
}

// trimErrorResponse maps trim failures onto protocol error codes.
func trimErrorResponse(err error) *uds.Response {
	var trimErr *clipkit.TrimError
	switch {
	case errors.Is(err, trim.ErrInputNotFound):
		return uds.ErrorResponse(uds.ErrCodeInputNotFound, err.Error())
	case errors.As(err, &trimErr), errors.Is(err, trim.ErrEmptyOutput):
		return uds.ErrorResponse(uds.ErrCodeTrimFailed, err.Error())
	case errors.Is(err, clipkit.ErrBinaryNotFound):
		return uds.ErrorResponse(uds.ErrCodeTrimFailed, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
