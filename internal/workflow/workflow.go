// Package workflow declares the externally visible shape of the trimming
// task: its parameter set, defaults, documentation, and authorship metadata.
// The declaration carries no logic; execution forwards to the trim task
// with the parameters unchanged.
package workflow

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jlsteenwyk/trimwf/internal/model"
	"github.com/jlsteenwyk/trimwf/internal/trim"
	"github.com/jlsteenwyk/trimwf/templates"
)

// WorkflowName identifies the workflow on the platform.
const WorkflowName = "clipkit"

// ParamType tags how a UI should render a parameter.
type ParamType string

const (
	ParamFile   ParamType = "file"
	ParamString ParamType = "string"
	ParamFloat  ParamType = "float"
	ParamEnum   ParamType = "enum"
)

// Author identifies who maintains the workflow.
type Author struct {
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	GitHub string `yaml:"github"`
}

// Parameter describes one workflow input.
type Parameter struct {
	Name        string    `yaml:"name"`
	DisplayName string    `yaml:"display_name"`
	Description string    `yaml:"description"`
	Type        ParamType `yaml:"type"`
	Required    bool      `yaml:"required,omitempty"`
	Default     string    `yaml:"default,omitempty"`
	Choices     []string  `yaml:"choices,omitempty"`
}

// Declaration is the registration document for the workflow.
type Declaration struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Author      Author      `yaml:"author"`
	Repository  string      `yaml:"repository"`
	License     string      `yaml:"license"`
	About       string      `yaml:"about"`
	Parameters  []Parameter `yaml:"parameters"`
}

// Declare builds the workflow declaration. The About text is embedded at
// build time so registration never depends on files next to the binary.
func Declare() (Declaration, error) {
	about, err := templates.FS.ReadFile("about.md")
	if err != nil {
		return Declaration{}, fmt.Errorf("read about text: %w", err)
	}

	var modeChoices []string
	for _, m := range model.Modes() {
		modeChoices = append(modeChoices, string(m))
	}

	return Declaration{
		Name:        WorkflowName,
		DisplayName: "Trim multiple sequence Alignments with ClipKIT",
		Author: Author{
			Name:   "Jacob L. Steenwyk",
			Email:  "jlsteenwyk@gmail.com",
			GitHub: "https://github.com/JLSteenwyk",
		},
		Repository: "https://github.com/JLSteenwyk/ClipKIT",
		License:    "MIT",
		About:      string(about),
		Parameters: []Parameter{
			{
				Name:        "aln_fasta",
				DisplayName: "Input multiple sequence alignment",
				Description: "Input multiple sequence alignment in FASTA format",
				Type:        ParamFile,
				Required:    true,
			},
			{
				Name:        "output_file_name",
				DisplayName: "Output trimmed multiple sequence alignment",
				Description: "Output trimmed multiple sequence alignment in FASTA format",
				Type:        ParamString,
				Default:     model.DefaultOutputName,
			},
			{
				Name:        "gap_threshold",
				DisplayName: "Gappyness threshold",
				Description: "Specifies gaps threshold (default: 0.9). Ignored if smart-gap is used.",
				Type:        ParamFloat,
				Default:     "0.9",
			},
			{
				Name:        "trimming_mode",
				DisplayName: "Trimming mode",
				Description: "Mode used for trimming. See \"About\" for more information.",
				Type:        ParamEnum,
				Default:     string(model.DefaultMode),
				Choices:     modeChoices,
			},
		},
	}, nil
}

// Render emits the declaration as YAML for UI registration.
func (d Declaration) Render() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("render declaration: %w", err)
	}
	return out, nil
}

// Workflow forwards executions to the trim task.
type Workflow struct {
	task *trim.Task
}

// New wraps a trim task as the workflow entry point.
func New(task *trim.Task) *Workflow {
	return &Workflow{task: task}
}

// Run executes the workflow. Parameters pass through to the task unchanged;
// all defaulting happens inside the task.
func (w *Workflow) Run(ctx context.Context, taskID string, params model.TrimParams) (*trim.Result, error) {
	return w.task.Run(ctx, trim.Request{TaskID: taskID, Params: params})
}
