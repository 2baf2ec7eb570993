package klock

import "time"

// A binarySemaphore is a binary semaphore; it can have values 0 and 1.
type binarySemaphore struct {
	ch chan struct{}
}

// Init initializes binarySemaphore *s; the initial value is 0.
func (s *binarySemaphore) Init() {
	s.ch = make(chan struct{}, 1)
}

// P waits until the count of semaphore *s is 1 and decrements the count to 0.
func (s *binarySemaphore) P() {
	<-s.ch
}

// PWithDeadline waits until one of: the count of semaphore *s is 1 (then it
// is decremented to 0 and OK is returned); deadlineTimer != nil and
// *deadlineTimer expires (Expired is returned); or cancelChan != nil becomes
// readable or closed (Cancelled is returned).
func (s *binarySemaphore) PWithDeadline(deadlineTimer *time.Timer, cancelChan <-chan struct{}) (res int) {
	var deadlineChan <-chan time.Time
	if deadlineTimer != nil {
		deadlineChan = deadlineTimer.C
	}
	if deadlineTimer != nil || cancelChan != nil {
		select {
		case <-s.ch:
			res = OK
		case <-deadlineChan:
			res = Expired
		case <-cancelChan:
			res = Cancelled
		}
	} else {
		<-s.ch
		res = OK
	}
	return res
}

// V ensures that the semaphore count of *s is 1.
func (s *binarySemaphore) V() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
