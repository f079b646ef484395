package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jlsteenwyk/trimwf/internal/model"
)

// SchemaHeader is the common prefix of all trimwf YAML files.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

var validFileTypes = map[string]bool{
	model.TaskQueueFileType:  true,
	model.TaskResultFileType: true,
}

// Load reads a spool or result file into out after checking the size limit
// and schema header. A missing file is not an error; loaded reports whether
// anything was read.
func Load(path string, expectedFileType string, maxBytes int, out any) (loaded bool, err error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if maxBytes > 0 && info.Size() > int64(maxBytes) {
		return false, fmt.Errorf("%s is %d bytes, exceeds limit %d", path, info.Size(), maxBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ValidateSchemaHeader(content, expectedFileType); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ValidateSchemaHeader checks the schema_version/file_type prefix of content.
func ValidateSchemaHeader(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if header.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	}
	if header.SchemaVersion > model.SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, model.SchemaVersion)
	}
	if header.FileType == "" {
		return fmt.Errorf("missing file_type")
	}
	if !validFileTypes[header.FileType] {
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	}
	if expectedFileType != "" && header.FileType != expectedFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}

	return nil
}
