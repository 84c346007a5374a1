package errors

// Error codes for the consumer contracts. Keep stable; used across adapters and the core.
const (
	ErrCodeMissingHandlerBinding = "consumer.missing_handler_binding"
	ErrCodeInvalidTopic          = "consumer.invalid_topic"
	ErrCodeHandlerNotFound       = "consumer.handler_not_found"
	ErrCodeInvalidHandlerName    = "consumer.invalid_handler_name"
	ErrCodeHandlerExists         = "consumer.handler_exists"
	ErrCodeHandlerExecution      = "consumer.handler_execution"
	ErrCodeTransportDisconnected = "consumer.transport_disconnected"
	ErrCodeSubscriptionClosed    = "consumer.subscription_closed"
	ErrCodeSubscribeFailed       = "consumer.subscribe_failed"
	ErrCodePublishFailed         = "consumer.publish_failed"
	ErrCodeInvalidConfig         = "consumer.invalid_config"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrMissingHandlerBinding = Code(ErrCodeMissingHandlerBinding)
	ErrInvalidTopic          = Code(ErrCodeInvalidTopic)
	ErrHandlerNotFound       = Code(ErrCodeHandlerNotFound)
	ErrInvalidHandlerName    = Code(ErrCodeInvalidHandlerName)
	ErrHandlerExists         = Code(ErrCodeHandlerExists)
	ErrHandlerExecution      = Code(ErrCodeHandlerExecution)
	ErrTransportDisconnected = Code(ErrCodeTransportDisconnected)
	ErrSubscriptionClosed    = Code(ErrCodeSubscriptionClosed)
	ErrSubscribeFailed       = Code(ErrCodeSubscribeFailed)
	ErrPublishFailed         = Code(ErrCodePublishFailed)
	ErrInvalidConfig         = Code(ErrCodeInvalidConfig)
)
