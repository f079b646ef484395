// Package status summarizes a trimwf project: daemon liveness, spool depth,
// and recent trim results.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/lock"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/uds"
	yamlutil "github.com/jlsteenwyk/trimwf/internal/yaml"
)

// recentResults caps how many result rows the overview shows.
const recentResults = 5

type ProjectStatus struct {
	Daemon  DaemonStatus    `json:"daemon"`
	Clipkit ClipkitStatus   `json:"clipkit"`
	Queue   QueueStatus     `json:"queue"`
	Results []ResultSummary `json:"results,omitempty"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	Pid     string `json:"pid,omitempty"`
	Started string `json:"started,omitempty"`
}

type ClipkitStatus struct {
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

type QueueStatus struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type ResultSummary struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	OutputURI string `json:"output_uri,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Run gathers the project status and prints it.
func Run(trimwfDir string, cfg model.Config, jsonOutput bool) error {
	st := ProjectStatus{
		Daemon:  checkDaemon(trimwfDir),
		Clipkit: checkClipkit(cfg.Clipkit),
		Queue:   queueDepth(trimwfDir),
		Results: latestResults(trimwfDir),
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	printStatus(st)
	return nil
}

func checkDaemon(trimwfDir string) DaemonStatus {
	client := uds.NewClient(filepath.Join(trimwfDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("ping", nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}

	st := DaemonStatus{Running: true}
	if info, err := lock.ReadInfo(filepath.Join(trimwfDir, "locks", "daemon.lock")); err == nil {
		st.Pid = strconv.Itoa(info.Pid)
		st.Started = info.Started
	}
	return st
}

// checkClipkit probes the configured binary so the overview shows whether
// trims can run at all.
func checkClipkit(cfg model.ClipkitConfig) ClipkitStatus {
	st := ClipkitStatus{Binary: cfg.Binary}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := clipkit.NewExecRunner(cfg).Version(ctx)
	if err != nil {
		return st
	}
	st.Available = true
	st.Version = version
	return st
}

func queueDepth(trimwfDir string) QueueStatus {
	var depth QueueStatus
	queueDir := filepath.Join(trimwfDir, "queue")
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return depth
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		var qf model.TaskQueueFile
		loaded, err := yamlutil.Load(filepath.Join(queueDir, entry.Name()), model.TaskQueueFileType, 0, &qf)
		if err != nil || !loaded {
			continue
		}
		for _, task := range qf.Tasks {
			switch task.Status {
			case model.StatusPending:
				depth.Pending++
			case model.StatusInProgress:
				depth.InProgress++
			case model.StatusCompleted:
				depth.Completed++
			case model.StatusFailed:
				depth.Failed++
			}
		}
	}
	return depth
}

func latestResults(trimwfDir string) []ResultSummary {
	rf := model.NewTaskResultFile()
	path := filepath.Join(trimwfDir, "results", "tasks.yaml")
	loaded, err := yamlutil.Load(path, model.TaskResultFileType, 0, rf)
	if err != nil || !loaded {
		return nil
	}

	start := len(rf.Results) - recentResults
	if start < 0 {
		start = 0
	}

	var out []ResultSummary
	for i := len(rf.Results) - 1; i >= start; i-- {
		r := rf.Results[i]
		out = append(out, ResultSummary{
			TaskID:    r.TaskID,
			Status:    string(r.Status),
			OutputURI: r.OutputURI,
			Error:     r.Error,
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}

func printStatus(st ProjectStatus) {
	if st.Daemon.Running {
		if st.Daemon.Started != "" {
			fmt.Printf("daemon: running (pid %s, since %s)\n", st.Daemon.Pid, st.Daemon.Started)
		} else {
			fmt.Printf("daemon: running (pid %s)\n", st.Daemon.Pid)
		}
	} else {
		fmt.Println("daemon: not running")
	}

	if st.Clipkit.Available {
		fmt.Printf("clipkit: %s\n", st.Clipkit.Version)
	} else {
		fmt.Printf("clipkit: not found (binary %q)\n", st.Clipkit.Binary)
	}

	fmt.Printf("queue:  %d pending, %d in progress, %d completed, %d failed\n",
		st.Queue.Pending, st.Queue.InProgress, st.Queue.Completed, st.Queue.Failed)

	if len(st.Results) == 0 {
		return
	}
	fmt.Println("recent results:")
	for _, r := range st.Results {
		line := fmt.Sprintf("  %s  %-10s", r.CreatedAt, r.Status)
		if r.OutputURI != "" {
			line += "  " + r.OutputURI
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
}
