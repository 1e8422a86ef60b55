package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FileEscalator writes one markdown escalation note per task. A note
// signals that automated remediation has halted and a human must take
// over; the note for a task is overwritten if it escalates again.
type FileEscalator struct {
	fs  afero.Fs
	dir string
}

// NewFileEscalator creates an escalator writing under dir
func NewFileEscalator(fs afero.Fs, dir string) *FileEscalator {
	return &FileEscalator{fs: fs, dir: dir}
}

// Escalate writes the note for taskID
func (e *FileEscalator) Escalate(ctx context.Context, taskID string, iteration int, reason string) error {
	if err := e.fs.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("create escalations dir: %w", err)
	}

	body := fmt.Sprintf(`# Escalation: %s

- **Task**: %s
- **Iterations used**: %d
- **Reason**: %s
- **Escalated at**: %s

Automated remediation has stopped for this task. Review the remediation
state's error trail and feedback history, resolve the underlying problem
manually, and remove the state record to allow automation to resume.
`, taskID, taskID, iteration, reason, time.Now().UTC().Format(time.RFC3339))

	path := filepath.Join(e.dir, taskID+".md")
	if err := afero.WriteFile(e.fs, path, []byte(body), 0644); err != nil {
		return fmt.Errorf("write escalation note: %w", err)
	}
	return nil
}
