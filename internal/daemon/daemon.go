// Package daemon runs the trim task as a long-lived service: it watches the
// .trimwf/queue/ spool, executes pending tasks through the clipkit wrapper,
// records results, and serves submissions over a unix domain socket.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/events"
	"github.com/jlsteenwyk/trimwf/internal/latch"
	"github.com/jlsteenwyk/trimwf/internal/lock"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/notify"
	"github.com/jlsteenwyk/trimwf/internal/trim"
	"github.com/jlsteenwyk/trimwf/internal/uds"
)

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

// Daemon is the trimwf daemon process.
type Daemon struct {
	trimwfDir string
	config    model.Config
	logLevel  LogLevel
	logger    *log.Logger
	logFile   io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	handler *QueueHandler
	runner  clipkit.Runner
	lockMap *lock.MutexMap
	bus     *events.Bus
	audit   *events.AuditLogger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a Daemon logging to .trimwf/logs/daemon.log.
func New(trimwfDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(trimwfDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(trimwfDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(trimwfDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := filepath.Join(trimwfDir, uds.DefaultSocketName)
	server := uds.NewServer(socketPath)

	scanInterval := cfg.Watcher.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 10
	}

	d := &Daemon{
		trimwfDir: trimwfDir,
		config:    cfg,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		logger:    log.New(w, "", 0),
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(trimwfDir, "locks", "daemon.lock")),
		server:    server,
		runner:    clipkit.NewExecRunner(cfg.Clipkit),
		ticker:    time.NewTicker(time.Duration(scanInterval) * time.Second),
		lockMap:   lock.NewMutexMap(),
		bus:       events.NewBus(64),
		ctx:       ctx,
		cancel:    cancel,
	}

	return d, nil
}

// SetRunner overrides the clipkit runner. Must be called before Run().
func (d *Daemon) SetRunner(r clipkit.Runner) {
	d.runner = r
}

// Bus exposes the event bus so callers can subscribe before Run().
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// start brings up the watcher, handlers, and UDS server.
func (d *Daemon) start() error {
	if err := os.MkdirAll(filepath.Join(d.trimwfDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	queueDir := filepath.Join(d.trimwfDir, "queue")
	for _, dir := range []string{queueDir, filepath.Join(d.trimwfDir, "results"), filepath.Join(d.trimwfDir, "work")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := watcher.Add(queueDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", queueDir, err)
	}

	audit, err := events.NewAuditLogger(filepath.Join(d.trimwfDir, "logs", "audit.jsonl"), 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit

	task, err := d.buildTask()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("init trim task: %w", err)
	}
	d.handler = NewQueueHandler(d.trimwfDir, d.config, task, d.lockMap, d.bus, d.audit, d.logger, d.logLevel)

	if d.config.Notify.Enabled {
		d.subscribeNotifications()
	}

	d.registerHandlers()

	// Synchronous submits hold their connection for the whole trim; the
	// other commands keep the default short deadline.
	if d.config.Clipkit.TimeoutSec > 0 {
		d.server.SetCommandTimeout("submit", time.Duration(d.config.Clipkit.TimeoutSec)*time.Second+30*time.Second)
	} else {
		d.server.SetCommandTimeout("submit", 0)
	}

	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.trimwfDir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	d.handler.PeriodicScan(d.ctx)
	d.log(LogLevelInfo, "daemon ready")
	return nil
}

// buildTask wires the store and runner into a trim task.
func (d *Daemon) buildTask() (*trim.Task, error) {
	storeRoot := d.config.Staging.StoreRoot
	if !filepath.IsAbs(storeRoot) {
		storeRoot = filepath.Join(d.trimwfDir, storeRoot)
	}
	store, err := latch.NewStore(storeRoot)
	if err != nil {
		return nil, err
	}
	workDir := filepath.Join(d.trimwfDir, "work")
	return trim.New(d.runner, store, workDir, d.logger.Writer(), d.config.Logging.Level), nil
}

// subscribeNotifications raises desktop notifications for finished trims.
func (d *Daemon) subscribeNotifications() {
	notifyOn := func(e events.Event, title string) {
		taskID, _ := e.Data["task_id"].(string)
		msg := fmt.Sprintf("task %s", taskID)
		if errMsg, ok := e.Data["error"].(string); ok {
			msg = fmt.Sprintf("task %s: %s", taskID, errMsg)
		}
		if err := notify.Send(title, msg); err != nil {
			d.log(LogLevelDebug, "notify_failed error=%v", err)
		}
	}

	d.bus.Subscribe(events.EventTaskCompleted, func(e events.Event) {
		notifyOn(e, "trim completed")
	})
	d.bus.Subscribe(events.EventTaskFailed, func(e events.Event) {
		notifyOn(e, "trim failed")
	})
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("scan", func(req *uds.Request) *uds.Response {
		d.handler.PeriodicScan(d.ctx)
		return uds.SuccessResponse(map[string]string{"status": "scanned"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle("submit", d.handleSubmit)
	d.server.Handle("status", d.handleStatus)
	d.server.Handle("modes", d.handleModes)
}

// fsnotifyLoop processes filesystem change events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.handler.HandleFileEvent(d.ctx, event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop triggers periodic scans at configured intervals.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic scan triggered")
			d.handler.PeriodicScan(d.ctx)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		d.cancel()

		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		d.bus.Close()
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	socketPath := filepath.Join(d.trimwfDir, uds.DefaultSocketName)
	os.Remove(socketPath)
	d.fileLock.Unlock()
	if d.audit != nil {
		d.audit.Close()
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
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
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
