package tracker

import (
	"encoding/json"
	"log"

	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/nats-io/nats.go"
)

// messagePublisher is satisfied by *nats.Conn
type messagePublisher interface {
	Publish(subj string, data []byte) error
}

var _ messagePublisher = (*nats.Conn)(nil)

// snapshotPublisher sends every snapshot as json to a NATS subject. Implements engine.Observer
type snapshotPublisher struct {
	log     *log.Logger
	conn    messagePublisher
	subject string
	metrics *metricsCollector
}

func makeSnapshotPublisher(log *log.Logger,
	conn messagePublisher,
	subject string,
	metrics *metricsCollector) *snapshotPublisher {
	return &snapshotPublisher{
		log:     log,
		conn:    conn,
		subject: subject,
		metrics: metrics,
	}
}

// CycleCompleted implements engine.Observer
func (p *snapshotPublisher) CycleCompleted(snapshot *engine.Snapshot) {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		p.log.Printf("failed to marshal snapshot %d, error:%v", snapshot.Seq, err)
		p.metrics.publishFailed()
		return
	}
	if err = p.conn.Publish(p.subject, jsonData); err != nil {
		p.log.Printf("failed to publish snapshot %d to %s, error:%v", snapshot.Seq, p.subject, err)
		p.metrics.publishFailed()
	}
}

// logObserver writes a one line summary of every cycle
type logObserver struct {
	log *log.Logger
}

// CycleCompleted implements engine.Observer
func (l *logObserver) CycleCompleted(snapshot *engine.Snapshot) {
	stats := snapshot.Stats
	l.log.Printf("snapshot %d: %d reports, %d matched, %d fallback, %d unmatched, %d skipped, %d delays clamped",
		snapshot.Seq, stats.Reports, stats.Matched, stats.Fallback, stats.Unmatched, stats.Skipped,
		stats.ClampedDelays)
}
