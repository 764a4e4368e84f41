package metrics

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	startTime time.Time

	requestsTotal   atomic.Int64
	requestsSuccess atomic.Int64
	requestsFailed  atomic.Int64

	dosesRecorded atomic.Int64
	dosesSkipped  atomic.Int64

	medicationsCreated atomic.Int64
	medicationsDeleted atomic.Int64

	interactionChecks    atomic.Int64
	interactionsDetected atomic.Int64
	lookupFailures       atomic.Int64

	refillAlertsActive atomic.Int64

	activeConnections atomic.Int64

	responseTimes     []time.Duration
	responseTimesLock sync.Mutex

	endpointRequests map[string]*atomic.Int64
	endpointLock     sync.Mutex
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	return &Metrics{
		startTime:        time.Now(),
		responseTimes:    make([]time.Duration, 0, 1000),
		endpointRequests: make(map[string]*atomic.Int64),
	}
}

func (m *Metrics) RecordRequest(success bool) {
	m.requestsTotal.Add(1)
	if success {
		m.requestsSuccess.Add(1)
	} else {
		m.requestsFailed.Add(1)
	}
}

func (m *Metrics) RecordDose(skipped bool) {
	if skipped {
		m.dosesSkipped.Add(1)
	} else {
		m.dosesRecorded.Add(1)
	}
}

func (m *Metrics) RecordMedicationCreated() {
	m.medicationsCreated.Add(1)
}

func (m *Metrics) RecordMedicationDeleted() {
	m.medicationsDeleted.Add(1)
}

func (m *Metrics) RecordInteractionCheck(found int) {
	m.interactionChecks.Add(1)
	m.interactionsDetected.Add(int64(found))
}

func (m *Metrics) RecordLookupFailure() {
	m.lookupFailures.Add(1)
}

func (m *Metrics) SetRefillAlertsActive(count int64) {
	m.refillAlertsActive.Store(count)
}

func (m *Metrics) RecordEndpointRequest(endpoint string) {
	m.endpointLock.Lock()
	defer m.endpointLock.Unlock()

	if m.endpointRequests[endpoint] == nil {
		m.endpointRequests[endpoint] = &atomic.Int64{}
	}
	m.endpointRequests[endpoint].Add(1)
}

func (m *Metrics) RecordResponseTime(d time.Duration) {
	m.responseTimesLock.Lock()
	defer m.responseTimesLock.Unlock()

	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
}

func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Add(1)
}

func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Add(-1)
}

type Snapshot struct {
	Uptime               time.Duration    `json:"uptime"`
	RequestsTotal        int64            `json:"requests_total"`
	RequestsSuccess      int64            `json:"requests_success"`
	RequestsFailed       int64            `json:"requests_failed"`
	DosesRecorded        int64            `json:"doses_recorded"`
	DosesSkipped         int64            `json:"doses_skipped"`
	MedicationsCreated   int64            `json:"medications_created"`
	MedicationsDeleted   int64            `json:"medications_deleted"`
	InteractionChecks    int64            `json:"interaction_checks"`
	InteractionsDetected int64            `json:"interactions_detected"`
	LookupFailures       int64            `json:"lookup_failures"`
	RefillAlertsActive   int64            `json:"refill_alerts_active"`
	ActiveConnections    int64            `json:"active_connections"`
	AvgResponseTime      time.Duration    `json:"avg_response_time"`
	P99ResponseTime      time.Duration    `json:"p99_response_time"`
	EndpointRequests     map[string]int64 `json:"endpoint_requests"`
	SuccessRate          float64          `json:"success_rate"`
}

func (m *Metrics) Snapshot() *Snapshot {
	s := &Snapshot{
		Uptime:               time.Since(m.startTime),
		RequestsTotal:        m.requestsTotal.Load(),
		RequestsSuccess:      m.requestsSuccess.Load(),
		RequestsFailed:       m.requestsFailed.Load(),
		DosesRecorded:        m.dosesRecorded.Load(),
		DosesSkipped:         m.dosesSkipped.Load(),
		MedicationsCreated:   m.medicationsCreated.Load(),
		MedicationsDeleted:   m.medicationsDeleted.Load(),
		InteractionChecks:    m.interactionChecks.Load(),
		InteractionsDetected: m.interactionsDetected.Load(),
		LookupFailures:       m.lookupFailures.Load(),
		RefillAlertsActive:   m.refillAlertsActive.Load(),
		ActiveConnections:    m.activeConnections.Load(),
		EndpointRequests:     make(map[string]int64),
	}

	if s.RequestsTotal > 0 {
		s.SuccessRate = float64(s.RequestsSuccess) / float64(s.RequestsTotal) * 100
	}

	m.responseTimesLock.Lock()
	if len(m.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range m.responseTimes {
			total += rt
		}
		s.AvgResponseTime = total / time.Duration(len(m.responseTimes))

		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		for i := 0; i < len(sorted)-1; i++ {
			for j := i + 1; j < len(sorted); j++ {
				if sorted[j] < sorted[i] {
					sorted[i], sorted[j] = sorted[j], sorted[i]
				}
			}
		}
		p99Index := int(float64(len(sorted)) * 0.99)
		if p99Index >= len(sorted) {
			p99Index = len(sorted) - 1
		}
		s.P99ResponseTime = sorted[p99Index]
	}
	m.responseTimesLock.Unlock()

	m.endpointLock.Lock()
	for k, v := range m.endpointRequests {
		s.EndpointRequests[k] = v.Load()
	}
	m.endpointLock.Unlock()

	return s
}

func (m *Metrics) Prometheus() string {
	var sb strings.Builder

	sb.WriteString("# HELP pilltrail_uptime_seconds Time since server start\n")
	sb.WriteString("# TYPE pilltrail_uptime_seconds gauge\n")
	sb.WriteString("pilltrail_uptime_seconds " + strconv.FormatInt(int64(time.Since(m.startTime).Seconds()), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_requests_total Total number of requests\n")
	sb.WriteString("# TYPE pilltrail_requests_total counter\n")
	sb.WriteString("pilltrail_requests_total " + strconv.FormatInt(m.requestsTotal.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_requests_failed Failed requests\n")
	sb.WriteString("# TYPE pilltrail_requests_failed counter\n")
	sb.WriteString("pilltrail_requests_failed " + strconv.FormatInt(m.requestsFailed.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_doses_recorded_total Doses recorded as taken\n")
	sb.WriteString("# TYPE pilltrail_doses_recorded_total counter\n")
	sb.WriteString("pilltrail_doses_recorded_total " + strconv.FormatInt(m.dosesRecorded.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_doses_skipped_total Doses marked as skipped\n")
	sb.WriteString("# TYPE pilltrail_doses_skipped_total counter\n")
	sb.WriteString("pilltrail_doses_skipped_total " + strconv.FormatInt(m.dosesSkipped.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_interaction_checks_total Interaction checks run\n")
	sb.WriteString("# TYPE pilltrail_interaction_checks_total counter\n")
	sb.WriteString("pilltrail_interaction_checks_total " + strconv.FormatInt(m.interactionChecks.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_interactions_detected_total Interactions found across checks\n")
	sb.WriteString("# TYPE pilltrail_interactions_detected_total counter\n")
	sb.WriteString("pilltrail_interactions_detected_total " + strconv.FormatInt(m.interactionsDetected.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_lookup_failures_total Classification lookup failures\n")
	sb.WriteString("# TYPE pilltrail_lookup_failures_total counter\n")
	sb.WriteString("pilltrail_lookup_failures_total " + strconv.FormatInt(m.lookupFailures.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_refill_alerts_active Currently active refill alerts\n")
	sb.WriteString("# TYPE pilltrail_refill_alerts_active gauge\n")
	sb.WriteString("pilltrail_refill_alerts_active " + strconv.FormatInt(m.refillAlertsActive.Load(), 10) + "\n\n")

	sb.WriteString("# HELP pilltrail_active_connections Active websocket connections\n")
	sb.WriteString("# TYPE pilltrail_active_connections gauge\n")
	sb.WriteString("pilltrail_active_connections " + strconv.FormatInt(m.activeConnections.Load(), 10) + "\n\n")

	m.endpointLock.Lock()
	for endpoint, count := range m.endpointRequests {
		sb.WriteString("# HELP pilltrail_endpoint_requests_total Requests per endpoint\n")
		sb.WriteString("# TYPE pilltrail_endpoint_requests_total counter\n")
		sb.WriteString("pilltrail_endpoint_requests_total{endpoint=\"" + endpoint + "\"} " + strconv.FormatInt(count.Load(), 10) + "\n\n")
	}
	m.endpointLock.Unlock()

	return sb.String()
}

func RecordRequest(success bool) {
	Default().RecordRequest(success)
}

func RecordDose(skipped bool) {
	Default().RecordDose(skipped)
}

func RecordMedicationCreated() {
	Default().RecordMedicationCreated()
}

func RecordMedicationDeleted() {
	Default().RecordMedicationDeleted()
}

func RecordInteractionCheck(found int) {
	Default().RecordInteractionCheck(found)
}

func RecordLookupFailure() {
	Default().RecordLookupFailure()
}

func SetRefillAlertsActive(count int64) {
	Default().SetRefillAlertsActive(count)
}

func RecordEndpointRequest(endpoint string) {
	Default().RecordEndpointRequest(endpoint)
}

func RecordResponseTime(d time.Duration) {
	Default().RecordResponseTime(d)
}

func CurrentSnapshot() *Snapshot {
	return Default().Snapshot()
}

func Prometheus() string {
	return Default().Prometheus()
}
