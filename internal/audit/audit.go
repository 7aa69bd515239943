package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit line. Events are emitted for every
// money-moving operation so ledger activity can be traced back to the actor
// and business object that triggered it.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id,omitempty"`
	Entity    string    `json:"entity"`
	TxnID     string    `json:"txn_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// Log records an action against an entity, e.g.
// Log(adminID, "PAYOUT_SEND", "Payout:"+id, details).
func (a *Logger) Log(actorID, action, entity string, details any) {
	a.emit(Event{
		Timestamp: time.Now(),
		Action:    action,
		ActorID:   actorID,
		Entity:    entity,
		Details:   details,
	})
}

// LogPosting records a committed or replayed ledger transaction.
func (a *Logger) LogPosting(txnID string, amount int64, idempotent bool) {
	a.emit(Event{
		Timestamp: time.Now(),
		Action:    "LEDGER_POST",
		Entity:    "Journal:" + txnID,
		TxnID:     txnID,
		Amount:    amount,
		Details:   map[string]bool{"idempotent": idempotent},
	})
}

func (a *Logger) emit(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
