package model

// File type markers written into the spool and result file headers so a
// misplaced file is rejected on load.
const (
	TaskQueueFileType  = "trim_task_queue"
	TaskResultFileType = "trim_task_results"
	SchemaVersion      = 1
)

// Task is one spooled trim request, queued in .trimwf/queue/tasks.yaml.
type Task struct {
	ID        string     `yaml:"id"`
	Params    TrimParams `yaml:"params"`
	Status    Status     `yaml:"status"`
	Submitter string     `yaml:"submitter,omitempty"`
	Attempts  int        `yaml:"attempts,omitempty"`
	CreatedAt string     `yaml:"created_at"`
	UpdatedAt string     `yaml:"updated_at,omitempty"`
}

// TaskQueueFile is the on-disk spool format.
type TaskQueueFile struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	Tasks         []Task `yaml:"tasks"`
}

// NewTaskQueueFile returns an empty spool file with the current schema header.
func NewTaskQueueFile() *TaskQueueFile {
	return &TaskQueueFile{
		SchemaVersion: SchemaVersion,
		FileType:      TaskQueueFileType,
	}
}
