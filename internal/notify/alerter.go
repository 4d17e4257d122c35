package notify

import (
	"time"

	"signalflow/internal/logger"
)

// Alerter adapts a TextNotifier to the fire-and-forget Notify call the
// dispatcher makes. Sends run on their own goroutine so a slow transport
// never blocks a dispatch.
type Alerter struct {
	sink TextNotifier
}

func NewAlerter(sink TextNotifier) *Alerter {
	if sink == nil {
		sink = Noop{}
	}
	return &Alerter{sink: sink}
}

func (a *Alerter) Notify(text string) {
	msg := Message{
		Icon:      "⚠️",
		Title:     "dispatch alert",
		Sections:  []Section{{Lines: []string{text}}},
		Timestamp: time.Now(),
	}
	body := msg.RenderMarkdown()
	go func() {
		if err := a.sink.SendText(body); err != nil {
			logger.Warnf("notify: send failed: %v", err)
		}
	}()
}
