package daemon

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jlsteenwyk/trimwf/internal/events"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/uds"
	yamlutil "github.com/jlsteenwyk/trimwf/internal/yaml"
)

// startTestDaemon brings up a daemon with a fake runner and returns a client
// talking to its socket.
func startTestDaemon(t *testing.T, runner *copyRunner) (*Daemon, *uds.Client, string) {
	t.Helper()
	trimwfDir := t.TempDir()

	var buf bytes.Buffer
	cfg := model.DefaultConfig()
	cfg.Logging.Level = "error"

	d, err := newDaemon(trimwfDir, cfg, &buf, nil)
	require.NoError(t, err)
	d.SetRunner(runner)
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)

	client := uds.NewClient(filepath.Join(trimwfDir, uds.DefaultSocketName))
	return d, client, trimwfDir
}

func TestSubmitSynchronous(t *testing.T) {
	runner := &copyRunner{}
	_, client, _ := startTestDaemon(t, runner)

	input := writeInput(t)
	resp, err := client.SendCommand("submit", SubmitParams{
		Params: model.TrimParams{AlnFasta: input, TrimmingMode: model.ModeGappy},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var res SubmitResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.NotEmpty(t, res.TaskID)
	require.Equal(t, string(model.StatusCompleted), res.Status)
	require.Equal(t, "latch:///trimmed_aln.fna", res.OutputURI)
	require.Equal(t, 2, res.Records)
	require.FileExists(t, res.OutputPath)
}

func TestSubmitInputNotFound(t *testing.T) {
	_, client, _ := startTestDaemon(t, &copyRunner{})

	resp, err := client.SendCommand("submit", SubmitParams{
		Params: model.TrimParams{AlnFasta: filepath.Join(t.TempDir(), "missing.fna")},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, uds.ErrCodeInputNotFound, resp.Error.Code)
}

func TestSubmitValidation(t *testing.T) {
	_, client, _ := startTestDaemon(t, &copyRunner{})

	resp, err := client.SendCommand("submit", SubmitParams{})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, uds.ErrCodeValidation, resp.Error.Code)
}

func TestSubmitDetachedAndStatus(t *testing.T) {
	runner := &copyRunner{}
	d, client, trimwfDir := startTestDaemon(t, runner)

	input := writeInput(t)
	resp, err := client.SendCommand("submit", SubmitParams{
		Params: model.TrimParams{AlnFasta: input},
		Detach: true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var res SubmitResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Equal(t, string(model.StatusPending), res.Status)

	require.FileExists(t, filepath.Join(trimwfDir, "queue", "tasks.yaml"))

	// Spooling the same task again is rejected while it is still pending.
	dup, err := client.SendCommand("submit", SubmitParams{
		Params: model.TrimParams{AlnFasta: input},
		Detach: true,
	})
	require.NoError(t, err)
	require.False(t, dup.Success)
	require.Equal(t, uds.ErrCodeDuplicate, dup.Error.Code)

	d.handler.PeriodicScan(d.ctx)

	statusResp, err := client.SendCommand("status", StatusParams{TaskID: res.TaskID})
	require.NoError(t, err)
	require.True(t, statusResp.Success)

	var status StatusResult
	require.NoError(t, json.Unmarshal(statusResp.Data, &status))
	require.Equal(t, string(model.StatusCompleted), status.Status)
	require.NotNil(t, status.Result)
	require.Equal(t, "latch:///trimmed_aln.fna", status.Result.OutputURI)
}

func TestStatusUnknownTask(t *testing.T) {
	_, client, _ := startTestDaemon(t, &copyRunner{})

	resp, err := client.SendCommand("status", StatusParams{TaskID: "nope"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, uds.ErrCodeNotFound, resp.Error.Code)
}

func TestModesCommand(t *testing.T) {
	_, client, _ := startTestDaemon(t, &copyRunner{})

	resp, err := client.SendCommand("modes", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	var infos []ModeInfo
	require.NoError(t, json.Unmarshal(resp.Data, &infos))
	require.Len(t, infos, 8)
	require.Equal(t, "smart-gap", infos[0].Name)
	require.True(t, infos[0].Default)
}

func TestPingAndScan(t *testing.T) {
	_, client, _ := startTestDaemon(t, &copyRunner{})

	resp, err := client.SendCommand("ping", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = client.SendCommand("scan", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestFsnotifyPicksUpSpooledTask(t *testing.T) {
	runner := &copyRunner{}
	d, _, trimwfDir := startTestDaemon(t, runner)

	spoolOne(t, trimwfDir, "task-watch", model.TrimParams{AlnFasta: writeInput(t)})

	require.Eventually(t, func() bool {
		_, ok := d.handler.LookupResult("task-watch")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestSecondDaemonRefusedByLock(t *testing.T) {
	d, _, trimwfDir := startTestDaemon(t, &copyRunner{})
	_ = d

	var buf bytes.Buffer
	second, err := newDaemon(trimwfDir, model.DefaultConfig(), &buf, nil)
	require.NoError(t, err)
	err = second.start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "daemon lock")

	_, statErr := os.Stat(filepath.Join(trimwfDir, "locks", "daemon.lock"))
	require.NoError(t, statErr)
}

func TestSubmitPublishesSubmittedEvent(t *testing.T) {
	d, client, _ := startTestDaemon(t, &copyRunner{})

	got := make(chan events.Event, 1)
	d.Bus().Subscribe(events.EventTaskSubmitted, func(e events.Event) {
		select {
		case got <- e:
		default:
		}
	})

	resp, err := client.SendCommand("submit", SubmitParams{
		Params: model.TrimParams{AlnFasta: writeInput(t)},
		Detach: true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var res SubmitResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))

	select {
	case e := <-got:
		require.Equal(t, res.TaskID, e.Data["task_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no task_submitted event received")
	}
}

func TestDetachedSpoolDuplicateRace(t *testing.T) {
	trimwfDir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Logging.Level = "error"

	var buf bytes.Buffer
	d, err := newDaemon(trimwfDir, cfg, &buf, nil)
	require.NoError(t, err)

	params := SubmitParams{
		Params: model.TrimParams{AlnFasta: writeInput(t)},
		Detach: true,
	}

	const submitters = 8
	responses := make([]*uds.Response, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = d.spoolTask(uuid.NewString(), params)
		}(i)
	}
	wg.Wait()

	spooled := 0
	for _, resp := range responses {
		if resp == nil {
			spooled++
		} else {
			require.Equal(t, uds.ErrCodeDuplicate, resp.Error.Code)
		}
	}
	require.Equal(t, 1, spooled)

	var qf model.TaskQueueFile
	loaded, err := yamlutil.Load(filepath.Join(trimwfDir, "queue", "tasks.yaml"), model.TaskQueueFileType, 0, &qf)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Len(t, qf.Tasks, 1)
}
