/*
Package inmemory provides an in-process Broker implementing the consumer transport and
publisher contracts. It backs tests, examples and the "memory" transport kind.
*/
package inmemory
