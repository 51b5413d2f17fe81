package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes each HTTP exchange into its own file under a
// directory, it is plugged into telemetry.InstrumentResty in verbose mode.
type FilesystemOutput struct {
	directory string
	prefix    string
}

// NewFilesystemOutput clears `dir` and prepares it for writing, `prefix` is
// prepended to every file name so several clients can share a directory.
func NewFilesystemOutput(dir, prefix string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir, prefix: prefix}, nil
}

func (o FilesystemOutput) path(id string) string {
	if o.prefix == "" {
		return filepath.Join(o.directory, fmt.Sprintf("%s.txt", id))
	}
	return filepath.Join(o.directory, fmt.Sprintf("%s-%s.txt", o.prefix, id))
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(o.path(id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
