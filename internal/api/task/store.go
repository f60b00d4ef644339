package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

// FileStore keeps every task as <id>.json in one directory.
type FileStore struct {
	dir    string
	logger *zap.SugaredLogger
}

// NewFileStore creates dir if needed. A leading ~ is expanded to the home
// directory of the user.
func NewFileStore(dir string, logger *zap.SugaredLogger) (*FileStore, error) {
	dir, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func expandHome(dir string) (string, error) {
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", dir, err)
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}

// Dir returns the directory holding the task files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", kerr.Validation("task.Store", "id", "task id %q is not a UUID", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Load reads every task file of the directory. Unreadable or invalid
// files are skipped.
func (s *FileStore) Load() ([]service.Task, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	s.logger.Debugf("Load tasks from %q", s.dir)

	tasks := make([]service.Task, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			s.logger.Warnf("Reading task %q failed: %v", file, err)
			continue
		}
		var t service.Task
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Warnf("Decoding task %q failed: %v", file, err)
			continue
		}
		if _, err := uuid.Parse(t.ID); err != nil {
			s.logger.Warnf("Tried to load invalid task %q", file)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Save writes t, replacing an earlier version atomically.
func (s *FileStore) Save(t service.Task) error {
	path, err := s.path(t.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".task-*")
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the file of id.
func (s *FileStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kerr.NotFound("task.Store", id)
		}
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
