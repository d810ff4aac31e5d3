package sse

import (
	"context"
	"sync"

	"dance-ticketing/internal/models"
)

// BalanceEventEmitter fans ticket balance changes out to SSE subscribers,
// keyed by customer id.
type BalanceEventEmitter struct {
	clients map[int64][]chan models.TicketBalanceChanged
	mu      sync.RWMutex
}

func NewBalanceEventEmitter() *BalanceEventEmitter {
	return &BalanceEventEmitter{
		clients: make(map[int64][]chan models.TicketBalanceChanged),
	}
}

// Subscribe registers a client for one customer's events. The channel is
// closed once ctx is done.
func (e *BalanceEventEmitter) Subscribe(ctx context.Context, customerID int64) <-chan models.TicketBalanceChanged {
	clientChan := make(chan models.TicketBalanceChanged, 10)

	e.mu.Lock()
	e.clients[customerID] = append(e.clients[customerID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(customerID, clientChan)
	}()

	return clientChan
}

// Emit delivers event to every subscriber of its customer without blocking;
// a client whose buffer is full misses the event.
func (e *BalanceEventEmitter) Emit(event models.TicketBalanceChanged) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[event.CustomerID] {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *BalanceEventEmitter) removeClient(customerID int64, clientChan chan models.TicketBalanceChanged) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[customerID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[customerID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[customerID]) == 0 {
		delete(e.clients, customerID)
	}
}

// ClientCount returns the number of clients subscribed to a customer.
func (e *BalanceEventEmitter) ClientCount(customerID int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[customerID])
}
