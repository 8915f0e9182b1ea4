package debug

import (
	"fmt"
	"log"
	"time"
)

// DebugHeader prints debug header if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		log.Printf("=== DEBUG START ===")
	}
}

// DebugFooter prints debug footer if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		log.Printf("=== DEBUG END ===")
	}
}

// DebugOutput prints debug output if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		timestamp := time.Now().Format("15:04:05.000")
		message := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", timestamp, message)
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	DebugOutput(enabled, "Starting: %s", operation)

	return func() {
		DebugOutput(enabled, "Completed: %s (took %v)", operation, time.Since(start))
	}
}

// Progress logs a throughput line every `every` ticks, regardless of debug mode.
// Not safe for concurrent use.
type Progress struct {
	label string
	every int64
	count int64
	start time.Time
}

// NewProgress creates a progress counter
func NewProgress(label string, every int64) *Progress {
	if every <= 0 {
		every = 100000
	}
	return &Progress{label: label, every: every, start: time.Now()}
}

// Add advances the counter by n and logs when a multiple of every is crossed
func (p *Progress) Add(n int64) {
	before := p.count / p.every
	p.count += n
	if p.count/p.every > before {
		p.log()
	}
}

// Count returns the current total
func (p *Progress) Count() int64 {
	return p.count
}

// Done logs the final total
func (p *Progress) Done() {
	p.log()
}

func (p *Progress) log() {
	elapsed := time.Since(p.start)
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(p.count) / elapsed.Seconds()
	}
	log.Printf("  %s: %s (%.0f/s)", p.label, FormatCount(p.count), rate)
}

// FormatCount renders 1234567 as 1.234.567
func FormatCount(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return sign + s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, '.')
		}
		out = append(out, s[i:i+3]...)
	}
	return sign + string(out)
}
