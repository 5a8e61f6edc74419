package publisher

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish publishes a message to the event stream
	Publish(key string, message []byte) error

	// TrimStreams trims the event stream to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}
