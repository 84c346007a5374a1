/*
Package mq holds the contracts shared by the consumer core and its transport adapters.
It contains interfaces plus config accessors; concrete brokers live under adapters/.
*/
package mq
