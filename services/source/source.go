package source

import "context"

// Message is one stream entry carrying scraped snapshots
type Message struct {
	ID       string
	Payloads [][]byte
}

// Source delivers snapshot messages and accepts acknowledgements
type Source interface {
	// Read blocks until messages are available or ctx is done
	Read(ctx context.Context) ([]Message, error)

	// Ack marks messages as processed
	Ack(ctx context.Context, ids ...string) error

	// Close releases the underlying connection
	Close() error
}
