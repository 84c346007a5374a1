/*
Package rabbitmq provides a RabbitMQ transport for the consumer.
Topics are routing keys on a durable topic exchange; each (topic, channel) pair consumes
from its own durable queue, so channels behave as independent consumer groups.
Deliveries are acknowledged manually once the listener settles them.
*/
package rabbitmq
