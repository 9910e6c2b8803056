package session

import "time"

// Clock abstracts time for testability.
type Clock interface { // A
	Now() time.Time
}

type realClock struct{} // A

// Now returns the current time.
func (realClock) Now() time.Time { // A
	return time.Now()
}

// RealClock returns the wall clock.
func RealClock() Clock { // A
	return realClock{}
}
