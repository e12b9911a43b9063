package detector

import "strings"

// baseChecks are always-relevant environment probes appended to every list.
var baseChecks = []string{
	"check /proc/cpuinfo for CPU frequency and core configuration",
	"inspect /sys/devices/system/cpu/cpu*/cpufreq/scaling_governor for the frequency policy",
	"run htop to review system load and process state",
}

var regressionChecks = []string{
	"scan dmesg for thermal or throttle warnings",
	"confirm the CPUs did not enter a power-saving state via scaling_cur_freq",
	"verify no resource limits apply: /proc/cgroups and systemctl status",
}

var improvementChecks = []string{
	"confirm environment consistency: compare kernel parameters and build options",
	"check for performance tuning changes under /proc/sys/kernel/perf_*",
}

var largeShiftChecks = []string{
	"check for hardware configuration changes with lscpu and lshw -short",
	"verify kernel and driver versions of the loaded modules",
}

// SuggestChecks derives follow-up checks from the metric name, the deviation
// direction and its magnitude. Deterministic and rule-based; at most five
// suggestions, first occurrence wins on duplicates.
func SuggestChecks(metric string, robustZ, pctChange *float64) []string {
	var suggestions []string
	lower := strings.ToLower(metric)

	switch {
	case strings.Contains(lower, "dhrystone") || strings.Contains(lower, "integer"):
		suggestions = append(suggestions,
			"inspect CPU cache sizing: /sys/devices/system/cpu/cpu*/cache/index*/size",
			"confirm compiler optimisation level and instruction-set support")
	case strings.Contains(lower, "whetstone") || strings.Contains(lower, "float"):
		suggestions = append(suggestions,
			"check floating-point unit flags in /proc/cpuinfo",
			"verify vector extensions via lscpu flags")
	case strings.Contains(lower, "copy") || strings.Contains(lower, "io"):
		suggestions = append(suggestions,
			"check memory headroom in /proc/meminfo",
			"sample storage I/O with iostat -x 1 3")
	case strings.Contains(lower, "process"):
		suggestions = append(suggestions,
			"review scheduler tunables under /proc/sys/kernel/sched_*",
			"profile syscall overhead with strace -c")
	case strings.Contains(lower, "syscall"):
		suggestions = append(suggestions,
			"confirm kernel version and build: uname -a",
			"compare kernel config against the last known-good run")
	}

	if robustZ != nil {
		if *robustZ < -2 {
			suggestions = append(suggestions, regressionChecks...)
		} else if *robustZ > 2 {
			suggestions = append(suggestions, improvementChecks...)
		}
	}
	if pctChange != nil && (*pctChange > 0.5 || *pctChange < -0.5) {
		suggestions = append(suggestions, largeShiftChecks...)
	}

	suggestions = append(suggestions, baseChecks[:2]...)
	return dedupe(suggestions, 5)
}

// FallbackChecks supplies generic checks used to top up sparse model output,
// split by deviation direction.
func FallbackChecks(regression bool) []string {
	checks := append([]string(nil), baseChecks...)
	if regression {
		checks = append(checks, regressionChecks...)
	} else {
		checks = append(checks, improvementChecks...)
	}
	return checks
}

func dedupe(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, limit)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
