package lifecycle

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemEnumerator derives process descriptors from the OS process
// table. The platform audio subsystem's per-process activity signal is
// not portable, so a process counts as audio-active while it is running
// and matches the curated application filter; the monitor's debounce
// delays absorb the imprecision.
type SystemEnumerator struct {
	knownApps []string
}

// NewSystemEnumerator creates an enumerator filtered to the curated
// audio/communication application list.
func NewSystemEnumerator(knownApps []string) *SystemEnumerator {
	return &SystemEnumerator{knownApps: knownApps}
}

// AudioProcesses returns the current snapshot of candidate processes.
func (e *SystemEnumerator) AudioProcesses(ctx context.Context) ([]Descriptor, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		if !e.matches(name) {
			continue
		}
		out = append(out, Descriptor{
			PID:         p.Pid,
			Name:        name,
			AudioActive: true,
			Helper:      IsHelper(name),
		})
	}
	return out, nil
}

func (e *SystemEnumerator) matches(name string) bool {
	if len(e.knownApps) == 0 {
		return false
	}
	lower := strings.ToLower(name)
	for _, app := range e.knownApps {
		if strings.Contains(lower, strings.ToLower(app)) {
			return true
		}
	}
	return false
}
