package mqtt

import (
	"encoding/json"
	"log"
	"sync"

	"aquaflash/internal/flasher"
)

const (
	topicFlashState    = "flash/state"
	topicFlashProgress = "flash/progress"
)

// FlashPublisher mirrors flasher events to the broker. State changes are
// retained so late subscribers see where the board is; progress is fire-and-forget.
type FlashPublisher struct {
	broker Broker
	logger *log.Logger

	mu           sync.Mutex
	lastProgress int
}

// NewFlashPublisher creates a publisher on top of broker
func NewFlashPublisher(broker Broker, logger *log.Logger) *FlashPublisher {
	return &FlashPublisher{
		broker:       broker,
		logger:       logger,
		lastProgress: -1,
	}
}

// Observe implements flasher.Observer
func (p *FlashPublisher) Observe(ev flasher.Event) {
	var err error
	switch ev.Type {
	case flasher.EventState:
		err = p.publishState(ev)
	case flasher.EventProgress:
		err = p.publishProgress(ev)
	}
	if err != nil && p.logger != nil {
		p.logger.Printf("[MQTT Publisher] Failed to publish %s event: %v", ev.Type, err)
	}
}

func (p *FlashPublisher) publishState(ev flasher.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.State == flasher.StateFlashing {
		p.mu.Lock()
		p.lastProgress = -1
		p.mu.Unlock()
	}
	return p.broker.PublishWithQoS(topicFlashState, 1, true, payload)
}

func (p *FlashPublisher) publishProgress(ev flasher.Event) error {
	// duplicate percentages are dropped
	p.mu.Lock()
	if ev.Progress == p.lastProgress {
		p.mu.Unlock()
		return nil
	}
	p.lastProgress = ev.Progress
	p.mu.Unlock()

	payload, err := json.Marshal(struct {
		State    flasher.State `json:"state"`
		Progress int           `json:"progress"`
	}{ev.State, ev.Progress})
	if err != nil {
		return err
	}
	return p.broker.PublishWithQoS(topicFlashProgress, 0, false, payload)
}
