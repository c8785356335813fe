package models

import "fmt"

// transitionTable lists, for each status, the statuses it may move to.
type transitionTable[S ~string] map[S][]S

func (t transitionTable[S]) allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t transitionTable[S]) check(kind string, from, to S) error {
	if _, ok := t[from]; !ok {
		return fmt.Errorf("%s status %q: %w", kind, from, ErrUnknownStatus)
	}
	if _, ok := t[to]; !ok {
		return fmt.Errorf("%s status %q: %w", kind, to, ErrUnknownStatus)
	}
	if !t.allows(from, to) {
		return fmt.Errorf("%s %s -> %s: %w", kind, from, to, ErrIllegalTransition)
	}
	return nil
}
