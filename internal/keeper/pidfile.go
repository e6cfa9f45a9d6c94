package keeper

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pgautoctl/keeper/internal/common"
)

// PIDFile guards against two keeper processes driving the same pgdata:
// created once at `run` start, checked at the top of every loop
// iteration (spec §4.3 step 4). A mismatch means another instance has
// taken over this pgdata and this process must abort immediately.
type PIDFile struct {
	path string
}

// CreatePIDFile writes the current process's PID to path, atomically.
// Any existing PID file is simply overwritten: the caller is expected to
// have already decided (operationally, out of this process's control)
// that no other instance is running.
func CreatePIDFile(path string) (*PIDFile, error) {
	pid := os.Getpid()
	if err := common.WriteFileAtomic(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}
	return &PIDFile{path: path}, nil
}

// Check verifies the on-disk PID file still names this process. Returns
// an error if the file is missing, unreadable, or names a different PID
// - any of which means this process must stop driving the database.
func (f *PIDFile) Check() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read pid file %s: %w", f.path, err)
	}

	onDisk, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file %s: %w", f.path, err)
	}

	if onDisk != os.Getpid() {
		return fmt.Errorf("pid file %s now contains pid %d, not ours (%d): another instance has taken over", f.path, onDisk, os.Getpid())
	}
	return nil
}

// Remove deletes the PID file, best-effort, on clean shutdown.
func (f *PIDFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file %s: %w", f.path, err)
	}
	return nil
}
