package events

import (
	"time"

	"statusboard/internal/domain"
)

// Limit is the number of entries the log keeps after every insertion.
const Limit = 10

// Writer prepends events to a document's log.
type Writer struct {
	Now func() time.Time
}

// Append records a transition at the head of doc.Events and drops entries
// beyond Limit from the tail. The time is the server's local hour:minute.
func (w Writer) Append(doc *domain.Document, status domain.Status, from, message string) domain.Event {
	if w.Now == nil {
		w.Now = time.Now
	}
	evt := domain.Event{
		Time:    w.Now().Local().Format("15:04"),
		Type:    domain.EventTypeFor(status),
		From:    from,
		Message: message,
	}
	log := make([]domain.Event, 0, len(doc.Events)+1)
	log = append(log, evt)
	log = append(log, doc.Events...)
	if len(log) > Limit {
		log = log[:Limit]
	}
	doc.Events = log
	return evt
}
