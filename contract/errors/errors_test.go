package errors_test

import (
	"errors"
	"fmt"
	"testing"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := merr.Code(merr.ErrCodeSubscribeFailed)
	if e.Error() != merr.ErrCodeSubscribeFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{merr.ErrMissingHandlerBinding, merr.ErrCodeMissingHandlerBinding},
		{merr.ErrInvalidTopic, merr.ErrCodeInvalidTopic},
		{merr.ErrHandlerNotFound, merr.ErrCodeHandlerNotFound},
		{merr.ErrInvalidHandlerName, merr.ErrCodeInvalidHandlerName},
		{merr.ErrHandlerExists, merr.ErrCodeHandlerExists},
		{merr.ErrHandlerExecution, merr.ErrCodeHandlerExecution},
		{merr.ErrTransportDisconnected, merr.ErrCodeTransportDisconnected},
		{merr.ErrSubscriptionClosed, merr.ErrCodeSubscriptionClosed},
		{merr.ErrSubscribeFailed, merr.ErrCodeSubscribeFailed},
		{merr.ErrPublishFailed, merr.ErrCodePublishFailed},
		{merr.ErrInvalidConfig, merr.ErrCodeInvalidConfig},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, merr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestWrappedCodesRemainComparable(t *testing.T) {
	err := fmt.Errorf("nats receive: %w", errors.Join(merr.ErrTransportDisconnected, errors.New("eof")))
	if !errors.Is(err, merr.ErrTransportDisconnected) {
		t.Fatalf("want ErrTransportDisconnected, got %v", err)
	}

	if errors.Is(err, merr.ErrSubscriptionClosed) {
		t.Fatalf("unexpected match for %v", err)
	}
}
