package domain

// MessageBus hands inbound chat messages from the transport to the pipeline.
type MessageBus interface {
	Publish(msg IncomingMessage)
	Subscribe() <-chan IncomingMessage
	Close()
}
