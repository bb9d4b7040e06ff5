package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalReceived     EventType = "SIGNAL_RECEIVED"
	EventDecisionMade       EventType = "DECISION_MADE"
	EventTradeOpened        EventType = "TRADE_OPENED"
	EventTradeFailed        EventType = "TRADE_FAILED"
	EventReconcileCompleted EventType = "RECONCILE_COMPLETED"
	EventCircuitBreaker     EventType = "CIRCUIT_BREAKER_UPDATE"
	EventTradingToggled     EventType = "TRADING_TOGGLED"
	EventError              EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. Each delivery runs on its own goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	now         func() time.Time
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalReceived publishes a parsed inbound signal
func (eb *EventBus) PublishSignalReceived(messageID, symbol, direction string) {
	eb.Publish(Event{
		Type: EventSignalReceived,
		Data: map[string]interface{}{
			"message_id": messageID,
			"symbol":     symbol,
			"direction":  direction,
		},
	})
}

// PublishDecision publishes the outcome of the decision stage
func (eb *EventBus) PublishDecision(symbol, action string, confidence int, price float64, reasons []string, wait string) {
	data := map[string]interface{}{
		"symbol":     symbol,
		"action":     action,
		"confidence": confidence,
		"price":      price,
		"reasons":    reasons,
	}
	if wait != "" {
		data["wait_recommendation"] = wait
	}
	eb.Publish(Event{Type: EventDecisionMade, Data: data})
}

// PublishTradeOpened publishes a filled entry
func (eb *EventBus) PublishTradeOpened(key, symbol, direction string, entryPrice, quantity, stopLoss, takeProfit float64, protected bool) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"key":         key,
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"protected":   protected,
		},
	})
}

// PublishTradeFailed publishes an execution that stopped before DONE
func (eb *EventBus) PublishTradeFailed(symbol, step string, unprotected bool, err error) {
	data := map[string]interface{}{
		"symbol":      symbol,
		"step":        step,
		"unprotected": unprotected,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventTradeFailed, Data: data})
}

// PublishReconcile publishes a reconcile sweep summary
func (eb *EventBus) PublishReconcile(checked, protected, repaired, failed int, pruned []string) {
	eb.Publish(Event{
		Type: EventReconcileCompleted,
		Data: map[string]interface{}{
			"checked":   checked,
			"protected": protected,
			"repaired":  repaired,
			"failed":    failed,
			"pruned":    pruned,
		},
	})
}

// PublishCircuitBreaker publishes a breaker state change
func (eb *EventBus) PublishCircuitBreaker(state, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreaker,
		Data: map[string]interface{}{
			"state":  state,
			"reason": reason,
		},
	})
}

// PublishTradingToggled publishes an operator enable/disable
func (eb *EventBus) PublishTradingToggled(enabled bool, source string) {
	eb.Publish(Event{
		Type: EventTradingToggled,
		Data: map[string]interface{}{
			"enabled": enabled,
			"source":  source,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
