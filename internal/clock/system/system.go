// Package system provides a wall-clock implementation of scrape.Clock.
package system

import "time"

// Clock reports real time.
type Clock struct{}

func New() Clock { return Clock{} }

func (Clock) Now() time.Time { return time.Now().UTC() }
