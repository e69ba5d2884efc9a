package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	exchanges     ExchangeCounts
	bytesIn       int64
	bytesOut      int64
	responseTimes []time.Duration
	statusCodes   map[int]int64
	tunnelHealthy bool
	healthChanges int64
	startTime     time.Time
}

type ExchangeCounts struct {
	Total       int64 `json:"total"`
	InFlight    int64 `json:"in_flight"`
	Completed   int64 `json:"completed"`
	Unreachable int64 `json:"unreachable"`
	Aborted     int64 `json:"aborted"`
	Truncated   int64 `json:"truncated"`
}

type Snapshot struct {
	Backend       string         `json:"backend"`
	Uptime        time.Duration  `json:"uptime"`
	TunnelHealthy bool           `json:"tunnel_healthy"`
	HealthChanges int64          `json:"health_changes"`
	Exchanges     ExchangeCounts `json:"exchanges"`
	BytesIn       int64          `json:"bytes_in"`
	BytesOut      int64          `json:"bytes_out"`
	AvgResponse   time.Duration  `json:"avg_response"`
	P50Response   time.Duration  `json:"p50_response"`
	P95Response   time.Duration  `json:"p95_response"`
	P99Response   time.Duration  `json:"p99_response"`
	EWMAResponse  time.Duration  `json:"ewma_response"`
	StatusCodes   map[int]int64  `json:"status_codes"`
	DroppedEvents int64          `json:"dropped_events"`
}

func (m *Metrics) StartExchange() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.exchanges.Total++
	m.exchanges.InFlight++
}

func (m *Metrics) CompleteExchange(duration time.Duration, statusCode int, bytesIn, bytesOut int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.finishLocked(bytesIn, bytesOut)
	m.exchanges.Completed++
	m.statusCodes[statusCode]++

	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > maxSamples {
		m.responseTimes = m.responseTimes[1:]
	}
}

func (m *Metrics) RecordUnreachable(statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.finishLocked(0, 0)
	m.exchanges.Unreachable++
	m.statusCodes[statusCode]++
}

func (m *Metrics) RecordAborted(bytesIn, bytesOut int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.finishLocked(bytesIn, bytesOut)
	m.exchanges.Aborted++
}

func (m *Metrics) RecordTruncated(statusCode int, bytesIn, bytesOut int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.finishLocked(bytesIn, bytesOut)
	m.exchanges.Truncated++
	m.statusCodes[statusCode]++
}

// finishLocked closes one in-flight exchange. InFlight never goes negative
// because started events can be dropped under load.
func (m *Metrics) finishLocked(bytesIn, bytesOut int64) {
	if m.exchanges.InFlight > 0 {
		m.exchanges.InFlight--
	}
	m.bytesIn += bytesIn
	m.bytesOut += bytesOut
}

func (m *Metrics) UpdateHealthStatus(healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.tunnelHealthy = healthy
	m.healthChanges++
}

func (m *Metrics) Snapshot(backend string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Backend:       backend,
		Uptime:        time.Since(m.startTime),
		TunnelHealthy: m.tunnelHealthy,
		HealthChanges: m.healthChanges,
		Exchanges:     m.exchanges,
		BytesIn:       m.bytesIn,
		BytesOut:      m.bytesOut,
		StatusCodes:   maps.Clone(m.statusCodes),
	}

	if len(m.responseTimes) > 0 {
		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		snap.AvgResponse = average(sorted)
		snap.P50Response = percentile(sorted, 0.50)
		snap.P95Response = percentile(sorted, 0.95)
		snap.P99Response = percentile(sorted, 0.99)
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		statusCodes: make(map[int]int64),
		startTime:   time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
