/*
Package resilience provides a circuit breaker for calls to the external assistant.

# Overview

When the assistant backend is down or rate limiting us, every prompt would
otherwise wait for a full timeout. The breaker fails fast instead and the
caller turns the rejection into an "unreachable" answer.

# Usage

	breaker := resilience.New("assistant", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	err := breaker.Execute(func() error {
		return backend.Stream(ctx, req, onDelta)
	})
	if resilience.IsRejection(err) {
		// breaker open, backend was not called
	}

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
