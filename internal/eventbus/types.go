package eventbus

// Topics emitted by the daemon itself. Clients may publish any other literal
// topic.
const (
	TopicAgentRegistered    = "agent.registered"
	TopicAgentUnregistered  = "agent.unregistered"
	TopicAgentStatusChanged = "agent.status_changed"
	TopicAgentDead          = "agent.dead"

	TopicQueueAdded     = "queue.added"
	TopicQueueAssigned  = "queue.assigned"
	TopicQueueStarted   = "queue.started"
	TopicQueueCompleted = "queue.completed"
	TopicQueueFailed    = "queue.failed"
	TopicQueueRequeued  = "queue.requeued"

	TopicLockAcquired = "lock.acquired"
	TopicLockReleased = "lock.released"
	TopicLockExpired  = "lock.expired"
)

// Subscriber receives events for one connection.
type Subscriber interface {
	// ID returns the connection id the subscriptions are bound to.
	ID() uint64

	// Deliver enqueues an encoded event without blocking. It returns false
	// when the event was dropped (queue full or connection closed).
	Deliver(frame []byte) bool
}
