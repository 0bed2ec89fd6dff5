package common

import "time"

// Returns a control that is closed once the duration has elapsed or the
// parent control has been closed, whichever happens first.
func NewTimer(ctrl Control, dur time.Duration) Control {
	sub := ctrl.Sub()

	timer := time.NewTimer(dur)
	go func() {
		defer timer.Stop()
		defer sub.Fail(TimeoutError)

		select {
		case <-sub.Closed():
			return
		case <-timer.C:
			return
		}
	}()

	return sub
}
