package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jlsteenwyk/trimwf/internal/clipkit"
	"github.com/jlsteenwyk/trimwf/internal/daemon"
	"github.com/jlsteenwyk/trimwf/internal/latch"
	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/setup"
	"github.com/jlsteenwyk/trimwf/internal/status"
	"github.com/jlsteenwyk/trimwf/internal/trim"
	"github.com/jlsteenwyk/trimwf/internal/uds"
	"github.com/jlsteenwyk/trimwf/internal/workflow"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "modes":
		runModes(os.Args[2:])
	case "register":
		runRegister(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "version":
		fmt.Printf("trimwf %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// parseTrimFlags parses the shared trimming flags of run and submit.
func parseTrimFlags(cmd string, args []string) (model.TrimParams, []string) {
	var params model.TrimParams
	var leftover []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input", "-i":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
				os.Exit(1)
			}
			i++
			params.AlnFasta = args[i]
		case "--output", "-o":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
				os.Exit(1)
			}
			i++
			params.OutputFileName = args[i]
		case "--mode", "-m":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
				os.Exit(1)
			}
			i++
			mode, err := model.ParseTrimmingMode(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			params.TrimmingMode = mode
		case "--gap-threshold", "-g":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
				os.Exit(1)
			}
			i++
			g, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --gap-threshold value: %s\n", args[i])
				os.Exit(1)
			}
			params.GapThreshold = &g
		default:
			leftover = append(leftover, args[i])
		}
	}

	if params.AlnFasta == "" && len(leftover) > 0 {
		params.AlnFasta = leftover[0]
		leftover = leftover[1:]
	}
	if params.AlnFasta == "" {
		fmt.Fprintf(os.Stderr, "usage: trimwf %s <alignment.fna> [--output <name>] [--mode <mode>] [--gap-threshold <t>]\n", cmd)
		os.Exit(1)
	}
	return params, leftover
}

// runRun executes one trim in-process, without a daemon.
func runRun(args []string) {
	params, leftover := parseTrimFlags("run", args)
	for _, a := range leftover {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\n", a)
		os.Exit(1)
	}

	cfg := model.DefaultConfig()
	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	storeRoot := filepath.Join(os.TempDir(), "trimwf-store")

	if trimwfDir := findTrimwfDir(); trimwfDir != "" {
		if loaded, err := loadConfig(trimwfDir); err == nil {
			cfg = loaded
		}
		workDir = filepath.Join(trimwfDir, "work")
		storeRoot = cfg.Staging.StoreRoot
		if !filepath.IsAbs(storeRoot) {
			storeRoot = filepath.Join(trimwfDir, storeRoot)
		}
		if err := os.MkdirAll(workDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "ensure work dir: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := latch.NewStore(storeRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init store: %v\n", err)
		os.Exit(1)
	}

	runner := clipkit.NewExecRunner(cfg.Clipkit)
	task := trim.New(runner, store, workDir, os.Stderr, cfg.Logging.Level)

	res, err := task.Run(context.Background(), trim.Request{TaskID: "cli", Params: params})
	if err != nil {
		switch {
		case errors.Is(err, trim.ErrInputNotFound):
			fmt.Fprintf(os.Stderr, "input not found: %s\n", params.AlnFasta)
		case errors.Is(err, clipkit.ErrBinaryNotFound):
			fmt.Fprintf(os.Stderr, "clipkit binary not found: install ClipKIT or set clipkit.binary in config.yaml\n")
		default:
			fmt.Fprintf(os.Stderr, "trim: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("trimmed %d records: %d -> %d columns in %s\n",
		res.Records, res.InputWidth, res.OutputWidth, res.Duration.Round(1e6))
	fmt.Printf("output: %s\n", res.Output.LocalPath)
	fmt.Printf("uri:    %s\n", res.Output.RemoteURI)
}

func runDaemon(_ []string) {
	trimwfDir := mustFindTrimwfDir()

	cfg, err := loadConfig(trimwfDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(trimwfDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSubmit(args []string) {
	var detach bool
	var rest []string
	for _, a := range args {
		if a == "--detach" {
			detach = true
			continue
		}
		rest = append(rest, a)
	}

	params, leftover := parseTrimFlags("submit", rest)
	for _, a := range leftover {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\n", a)
		os.Exit(1)
	}

	// Daemon-side staging needs an absolute input path.
	if !latch.IsURI(params.AlnFasta) {
		abs, err := filepath.Abs(params.AlnFasta)
		if err == nil {
			params.AlnFasta = abs
		}
	}

	trimwfDir := mustFindTrimwfDir()
	client := uds.NewClient(filepath.Join(trimwfDir, uds.DefaultSocketName))
	client.SetTimeout(0) // trims can run for minutes

	resp, err := client.SendCommand("submit", daemon.SubmitParams{
		Params: params,
		Detach: detach,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	printResponse("submit", resp)
}

func runStatus(args []string) {
	jsonOutput := false
	taskID := ""
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			if taskID != "" {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: trimwf status [<task-id>] [--json]\n", a)
				os.Exit(1)
			}
			taskID = a
		}
	}

	trimwfDir := mustFindTrimwfDir()

	// No task ID: print the project overview.
	if taskID == "" {
		cfg, err := loadConfig(trimwfDir)
		if err != nil {
			cfg = model.DefaultConfig()
		}
		if err := status.Run(trimwfDir, cfg, jsonOutput); err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		return
	}

	client := uds.NewClient(filepath.Join(trimwfDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("status", daemon.StatusParams{TaskID: taskID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	printResponse("status", resp)
}

func runModes(_ []string) {
	for _, m := range model.Modes() {
		marker := " "
		if m == model.DefaultMode {
			marker = "*"
		}
		fmt.Printf("%s %-15s %s\n", marker, m, m.Description())
	}
	fmt.Println("\n* default")
}

func runRegister(args []string) {
	outPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--output", "-o":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--output requires a value")
				os.Exit(1)
			}
			i++
			outPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: trimwf register [--output <file>]\n", args[i])
			os.Exit(1)
		}
	}

	decl, err := workflow.Declare()
	if err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}
	out, err := decl.Render()
	if err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	if outPath == "" {
		os.Stdout.Write(out)
		return
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote workflow declaration to %s\n", outPath)
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: trimwf setup <project_dir> [--name <project>]")
		os.Exit(1)
	}
	projectDir := args[0]
	projectName := ""
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			projectName = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: trimwf setup <project_dir> [--name <project>]\n", args[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(projectDir, projectName); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(projectDir)
	fmt.Printf("Initialized .trimwf/ in %s\n", absDir)
}

func printResponse(cmd string, resp *uds.Response) {
	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", cmd, code, msg)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
	fmt.Println(string(out))
}

func findTrimwfDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".trimwf")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mustFindTrimwfDir() string {
	trimwfDir := findTrimwfDir()
	if trimwfDir == "" {
		fmt.Fprintln(os.Stderr, "error: .trimwf/ directory not found. Run 'trimwf setup <dir>' first.")
		os.Exit(1)
	}
	return trimwfDir
}

func loadConfig(trimwfDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(trimwfDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return model.ApplyDefaults(cfg), nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `trimwf %s: ClipKIT alignment trimming as a managed task

Usage: trimwf <command> [options]

Trimming:
  run <aln> [flags]            Trim an alignment in-process
  submit <aln> [flags]         Submit a trim to the daemon (--detach to spool)
  status [<task-id>] [--json]  Project overview, or look up one task

Flags for run/submit:
  --input, -i <path>          Input alignment (FASTA); also positional
  --output, -o <name>         Output file name (default: trimmed_aln.fna)
  --mode, -m <mode>           Trimming mode (default: smart-gap)
  --gap-threshold, -g <t>     Gaps threshold in [0, 1] (default: 0.9)

Project:
  setup <dir> [--name <p>]    Initialize .trimwf/ directory
  daemon                      Run daemon process
  register [--output <file>]  Render workflow declaration YAML

Utilities:
  modes             List trimming modes
  version           Show version
  help              Show this help

`, version)
}
