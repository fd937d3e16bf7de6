package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

// pidFile is the JSON lifecycle record the start/stop pair reads and
// writes. Liveness is checked portably with a signal-0 probe rather
// than any OS-specific process API.
type pidFile struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	DSN       string    `json:"dsn"`
}

func pidFilePath() string {
	return filepath.Join(os.TempDir(), "coordinatord.pid.json")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Record a running coordinator instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if existing, err := readPIDFile(); err == nil && processAlive(existing.PID) {
			return coorderr.Newf(coorderr.KindPreconditionFailed, "coordinatord already running (pid %d)", existing.PID)
		}

		record := pidFile{PID: os.Getpid(), StartedAt: time.Now().UTC(), DSN: cfg.Persistence.DSN}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return coorderr.Wrap(coorderr.KindValidationFailed, "marshal pid file", err)
		}
		if err := os.WriteFile(pidFilePath(), data, 0o644); err != nil {
			return coorderr.Wrap(coorderr.KindBackendUnavailable, "write pid file", err)
		}
		setResult(map[string]any{"pid": record.PID, "dsn": record.DSN})
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Clear the recorded coordinator instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := readPIDFile()
		if err != nil {
			return coorderr.New(coorderr.KindNotFound, "no recorded coordinator instance")
		}
		if err := os.Remove(pidFilePath()); err != nil && !os.IsNotExist(err) {
			return coorderr.Wrap(coorderr.KindBackendUnavailable, "remove pid file", err)
		}
		setResult(map[string]any{"stopped_pid": record.PID})
		return nil
	},
}

func readPIDFile() (pidFile, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return pidFile{}, err
	}
	var record pidFile
	if err := json.Unmarshal(data, &record); err != nil {
		return pidFile{}, err
	}
	return record, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
