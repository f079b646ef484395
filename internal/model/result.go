package model

// TaskResultFile is the on-disk format of .trimwf/results/tasks.yaml.
type TaskResultFile struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	Results       []TaskResult `yaml:"results"`
}

// NewTaskResultFile returns an empty result file with the current schema header.
func NewTaskResultFile() *TaskResultFile {
	return &TaskResultFile{
		SchemaVersion: SchemaVersion,
		FileType:      TaskResultFileType,
	}
}

// TaskResult records the outcome of one trim task.
type TaskResult struct {
	ID          string  `yaml:"id"`
	TaskID      string  `yaml:"task_id"`
	Status      Status  `yaml:"status"`
	OutputURI   string  `yaml:"output_uri,omitempty"`
	OutputPath  string  `yaml:"output_path,omitempty"`
	Error       string  `yaml:"error,omitempty"`
	Records     int     `yaml:"records,omitempty"`
	InputWidth  int     `yaml:"input_width,omitempty"`
	OutputWidth int     `yaml:"output_width,omitempty"`
	DurationSec float64 `yaml:"duration_sec,omitempty"`
	CreatedAt   string  `yaml:"created_at"`
}
