package system

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// InitResourceLimits raises the soft limit on open files to want, capped by the
// hard limit. A higher existing limit is kept. It returns the resulting limit.
func InitResourceLimits(want uint64) uint64 {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("[!] Не удалось получить лимит файлов: %v", err)
		return 0
	}
	if lim.Cur >= want {
		return lim.Cur
	}

	lim.Cur = min(want, lim.Max)
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("[!] Не удалось установить лимит файлов %d: %v", lim.Cur, err)
		return 0
	}
	return lim.Cur
}

// CheckEncoder verifies that ffmpeg is installed and lists the named encoder.
func CheckEncoder(ffmpeg, encoder string) error {
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg не найден (%s): %w", ffmpeg, err)
	}

	out, err := exec.Command(ffmpeg, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	if !strings.Contains(string(out), " "+encoder+" ") {
		return fmt.Errorf("ffmpeg собран без энкодера %s", encoder)
	}
	return nil
}

// GetMediaDuration asks ffprobe for the container duration of an exported file.
func GetMediaDuration(ffprobe, path string) (time.Duration, error) {
	out, err := exec.Command(ffprobe, "-v", "error", "-show_entries", "format=duration", "-of", "csv=p=0", path).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return 0, fmt.Errorf("ffprobe %s: %s", filepath.Base(path), strings.TrimSpace(string(ee.Stderr)))
		}
		return 0, err
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: unexpected duration %q", filepath.Base(path), strings.TrimSpace(string(out)))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ResourceUsage is a point-in-time view of process and host memory
type ResourceUsage struct {
	ProcessRSS    uint64
	ProcessCPU    float64
	HostUsedPct   float64
	HostAvailable uint64
}

// ReadResourceUsage samples the current process and host memory.
func ReadResourceUsage() (ResourceUsage, error) {
	var u ResourceUsage

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return u, err
	}
	if mi, err := p.MemoryInfo(); err == nil {
		u.ProcessRSS = mi.RSS
	}
	if pct, err := p.CPUPercent(); err == nil {
		u.ProcessCPU = pct
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return u, err
	}
	u.HostUsedPct = vm.UsedPercent
	u.HostAvailable = vm.Available
	return u, nil
}

func (u ResourceUsage) String() string {
	return fmt.Sprintf("RSS: %.1f MiB | CPU: %.1f%% | Host memory: %.1f%% used, %.1f MiB free",
		float64(u.ProcessRSS)/(1<<20), u.ProcessCPU, u.HostUsedPct, float64(u.HostAvailable)/(1<<20))
}
