package models

import "sync"

// estimateStep is the assumed archive size per percent when no length is known
const estimateStep = 1024 * 1024

// maxEstimate caps progress while the total size is unknown
const maxEstimate = 95

// progressMeter converts byte counts to a monotonic 0..100 percentage.
// 100 is reported only by Complete, after the model is usable.
type progressMeter struct {
	mu      sync.Mutex
	percent int
	report  func(int)
}

func newProgressMeter(report func(int)) *progressMeter {
	return &progressMeter{report: report}
}

func (m *progressMeter) Observe(p Progress) {
	var percent int
	switch {
	case p.Total > 0:
		percent = int(p.Downloaded * 100 / p.Total)
		if percent > 99 {
			percent = 99
		}
	default:
		percent = int(p.Downloaded / estimateStep)
		if percent > maxEstimate {
			percent = maxEstimate
		}
	}
	m.set(percent)
}

func (m *progressMeter) Complete() {
	m.set(100)
}

func (m *progressMeter) Percent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.percent
}

func (m *progressMeter) set(percent int) {
	m.mu.Lock()
	if percent <= m.percent {
		m.mu.Unlock()
		return
	}
	m.percent = percent
	report := m.report
	m.mu.Unlock()

	if report != nil {
		report(percent)
	}
}
