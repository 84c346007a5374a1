/*
Package nsq provides an NSQ transport for the consumer, built on go-nsq.
Topics and channels map one to one onto NSQ topics and channels, and max_in_flight
becomes the consumer's RDY budget. NSQ messages carry no headers: published headers
are dropped and received messages expose only the delivery attempt count.
*/
package nsq
