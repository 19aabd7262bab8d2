package events

import "sync"

// ProcessedRecord is one OnPaymentProcessed notification.
type ProcessedRecord struct {
	TransactionRef   string
	Status           string
	GatewayID        int64
	ProcessingTimeMs int64
}

// RefundedRecord is one OnPaymentRefunded notification.
type RefundedRecord struct {
	TransactionRef   string
	ProcessingTimeMs int64
}

// Recorder keeps every notification in memory. Used by tests and the CLI dry runs.
type Recorder struct {
	mu        sync.Mutex
	events    []GatewayEvent
	processed []ProcessedRecord
	refunded  []RefundedRecord
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnGatewayEvent(ev GatewayEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) OnPaymentProcessed(ref, status string, gatewayID, ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, ProcessedRecord{ref, status, gatewayID, ms})
}

func (r *Recorder) OnPaymentRefunded(ref string, ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunded = append(r.refunded, RefundedRecord{ref, ms})
}

// Events returns a copy of the recorded gateway events.
func (r *Recorder) Events() []GatewayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]GatewayEvent(nil), r.events...)
}

func (r *Recorder) Processed() []ProcessedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProcessedRecord(nil), r.processed...)
}

func (r *Recorder) Refunded() []RefundedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RefundedRecord(nil), r.refunded...)
}
