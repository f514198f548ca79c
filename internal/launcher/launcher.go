package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/model"
)

// Instance is one spawned worker process.
type Instance struct {
	Phase model.Phase
	Index int
	PID   int
	Range Range
}

// Launcher spawns worker instances by re-executing the current binary with
// the hidden worker command, and tracks them through pid files.
type Launcher struct {
	cfg config.LauncherConfig
	log *zap.Logger
}

func New(cfg config.LauncherConfig) *Launcher {
	return &Launcher{cfg: cfg, log: zap.L().Named("launcher")}
}

// Launch partitions the machine's slot range across the configured instance
// count for the phase and spawns one detached worker per sub-range.
func (l *Launcher) Launch(phase model.Phase, totalItems int) ([]Instance, error) {
	count := l.cfg.Instances[strconv.Itoa(int(phase))]
	if count < 1 {
		count = 1
	}

	machine := MachineRange(l.cfg.Ranges, l.cfg.MachineTag, totalItems)
	parts := Partition(machine.Start, machine.End, count)
	if len(parts) == 0 {
		l.log.Info("nothing to launch", zap.Int("phase", int(phase)))
		return nil, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, eris.Wrap(err, "launcher: resolve executable")
	}
	if err := os.MkdirAll(l.cfg.PidDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "launcher: create pid dir")
	}

	var instances []Instance
	for i, part := range parts {
		cmd := exec.Command(self, "worker",
			"--phase", strconv.Itoa(int(phase)),
			"--start", strconv.Itoa(part.Start),
			"--end", strconv.Itoa(part.End),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return instances, eris.Wrapf(err, "launcher: spawn instance %d", i)
		}

		inst := Instance{Phase: phase, Index: i, PID: cmd.Process.Pid, Range: part}
		if err := l.writePidFile(inst); err != nil {
			return instances, err
		}
		instances = append(instances, inst)
		l.log.Info("instance started",
			zap.Int("phase", int(phase)),
			zap.Int("index", i),
			zap.Int("pid", inst.PID),
			zap.Int("start", part.Start),
			zap.Int("end", part.End))

		// Detach: the worker survives the launcher process.
		_ = cmd.Process.Release()
	}
	return instances, nil
}

// Stop terminates every tracked instance: SIGTERM first, SIGKILL after the
// grace window, pid files removed either way.
func (l *Launcher) Stop() (int, error) {
	instances, err := l.List()
	if err != nil {
		return 0, err
	}

	grace := time.Duration(l.cfg.GraceSecs) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}

	stopped := 0
	for _, inst := range instances {
		if !pidAlive(inst.PID) {
			l.removePidFile(inst)
			continue
		}
		_ = syscall.Kill(inst.PID, syscall.SIGTERM)
		if waitExit(inst.PID, grace) {
			l.log.Info("instance stopped", zap.Int("pid", inst.PID))
		} else {
			_ = syscall.Kill(inst.PID, syscall.SIGKILL)
			l.log.Warn("instance killed after grace", zap.Int("pid", inst.PID))
		}
		l.removePidFile(inst)
		stopped++
	}
	return stopped, nil
}

// List reads the pid files for this machine tag.
func (l *Launcher) List() ([]Instance, error) {
	pattern := filepath.Join(l.cfg.PidDir, l.cfg.MachineTag+"-phase*-*.pid")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, eris.Wrap(err, "launcher: glob pid files")
	}

	var instances []Instance
	for _, path := range matches {
		inst, perr := parsePidFile(path)
		if perr != nil {
			l.log.Warn("unreadable pid file", zap.String("path", path), zap.Error(perr))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Running counts tracked instances whose process is still alive.
func (l *Launcher) Running() (int, error) {
	instances, err := l.List()
	if err != nil {
		return 0, err
	}
	alive := 0
	for _, inst := range instances {
		if pidAlive(inst.PID) {
			alive++
		}
	}
	return alive, nil
}

func (l *Launcher) pidFilePath(inst Instance) string {
	name := fmt.Sprintf("%s-phase%d-%d.pid", l.cfg.MachineTag, int(inst.Phase), inst.Index)
	return filepath.Join(l.cfg.PidDir, name)
}

func (l *Launcher) writePidFile(inst Instance) error {
	content := fmt.Sprintf("%d %d %d\n", inst.PID, inst.Range.Start, inst.Range.End)
	if err := os.WriteFile(l.pidFilePath(inst), []byte(content), 0o644); err != nil {
		return eris.Wrap(err, "launcher: write pid file")
	}
	return nil
}

func (l *Launcher) removePidFile(inst Instance) {
	_ = os.Remove(l.pidFilePath(inst))
}

func parsePidFile(path string) (Instance, error) {
	var inst Instance

	base := strings.TrimSuffix(filepath.Base(path), ".pid")
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return inst, eris.Errorf("launcher: malformed pid file name %s", base)
	}
	phase, err := strconv.Atoi(strings.TrimPrefix(parts[len(parts)-2], "phase"))
	if err != nil {
		return inst, eris.Wrap(err, "launcher: parse phase")
	}
	index, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return inst, eris.Wrap(err, "launcher: parse index")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return inst, eris.Wrap(err, "launcher: read pid file")
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return inst, eris.Errorf("launcher: malformed pid file %s", path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return inst, eris.Wrap(err, "launcher: parse pid")
	}
	start, _ := strconv.Atoi(fields[1])
	end, _ := strconv.Atoi(fields[2])

	inst = Instance{
		Phase: model.Phase(phase),
		Index: index,
		PID:   pid,
		Range: Range{Start: start, End: end},
	}
	return inst, nil
}

func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func waitExit(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !pidAlive(pid)
}
