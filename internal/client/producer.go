package client

import (
	"log/slog"

	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// ProducedEvent is an event emitted by a producer.
type ProducedEvent struct {
	Name    string
	Message value.Struct
}

// EventProducer is a source of events and context changes, such as host
// lifecycle hooks. In a context delta, a Null value removes the key.
// Both channels are closed by the producer once Stop returns.
type EventProducer interface {
	Events() <-chan ProducedEvent
	ContextChanges() <-chan value.Struct
	Stop()
}

// TrackProducer consumes p until either of its channels closes or the
// client stops.
func (c *Client) TrackProducer(p EventProducer) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		p.Stop()
		return
	}
	c.producers = append(c.producers, p)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		events, changes := p.Events(), p.ContextChanges()
		for events != nil || changes != nil {
			select {
			case <-c.done:
				return
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if err := c.Track(e.Name, e.Message); err != nil {
					c.logger.Warn("dropping produced event",
						slog.String("event", e.Name),
						slog.String("error", err.Error()),
					)
				}
			case delta, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				c.applyDelta(delta)
			}
		}
	}()
}

func (c *Client) applyDelta(delta value.Struct) {
	c.update(func(l *layer) *layer {
		for k, v := range delta {
			if v.IsNull() {
				l = l.remove(k)
			} else {
				l = l.put(k, v)
			}
		}
		return l
	})
}
