package rabbitmq

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetAuditQueues возвращает очереди для потребителей журнала аудита.
func GetAuditQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "audit.entries", RoutingKey: "#"},
	}
}
