// Package sse fans daemon events out to local server-sent-event subscribers.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

type Broker struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[*Client]bool)}
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		close(client.Done)
	} else {
		b.clients[client] = true
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Info().
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.Done)

		log.Info().
			Int("clientCount", len(b.clients)).
			Msg("sse client unsubscribed")
	}
}

// Publish marshals data and delivers it to every subscriber. Slow clients
// drop events rather than blocking the publisher.
func (b *Broker) Publish(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.broadcast(Event{Type: eventType, Data: raw})
	return nil
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
	b.closed = true
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
