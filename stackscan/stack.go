// ABOUTME: Bounded word-range stack abstraction for conservative root scanning
// ABOUTME: The single audited boundary through which raw candidate words flow

// Package stackscan models the window of a thread's stack that the
// collector scans conservatively. The embedder pushes candidate machine
// words (anything that might be a managed address) onto the Stack; the
// collector treats every word as a potential root. A safepoint scope
// marker bounds how deep another thread may scan a parked stack: words
// beyond the marker belong to frames the parked thread's native callers
// may still mutate, so they are copied into an owned buffer once, at park
// time, and the copy is scanned instead.
package stackscan

import "fmt"

// Stack is a bounded range of candidate words. Index 0 is the recorded
// start of stack; the slice end is the current depth. Not safe for
// concurrent mutation; the safepoint protocol serializes scanning.
type Stack struct {
	words []uintptr

	marker    int
	hasMarker bool

	safePointCopy []uintptr
}

// New creates an empty stack window.
func New() *Stack {
	return &Stack{}
}

// Push records a candidate word at the current depth.
func (s *Stack) Push(word uintptr) {
	s.words = append(s.words, word)
}

// PushWords records several candidate words.
func (s *Stack) PushWords(words ...uintptr) {
	s.words = append(s.words, words...)
}

// Pop discards the deepest n words. Frames beyond a set marker may be
// popped freely; popping shallower than the marker is a misuse.
func (s *Stack) Pop(n int) {
	if n > len(s.words) {
		panic(fmt.Sprintf("stackscan: Pop(%d) with depth %d", n, len(s.words)))
	}
	depth := len(s.words) - n
	if s.hasMarker && depth < s.marker {
		panic("stackscan: Pop past safepoint scope marker")
	}
	s.words = s.words[:depth]
}

// Depth returns the current word count.
func (s *Stack) Depth() int { return len(s.words) }

// SetMarker records the safepoint scope marker at the current depth.
func (s *Stack) SetMarker() {
	if s.hasMarker {
		panic("stackscan: safepoint scope marker already set")
	}
	s.marker = len(s.words)
	s.hasMarker = true
}

// ClearMarker removes the marker and the safepoint copy.
func (s *Stack) ClearMarker() {
	s.hasMarker = false
	s.marker = 0
	s.safePointCopy = nil
}

// HasMarker reports whether a safepoint scope marker is set.
func (s *Stack) HasMarker() bool { return s.hasMarker }

// CopyUntilMarker snapshots the words beyond the scope marker into an
// owned buffer. Called once, when the thread parks; the live window keeps
// changing under the parked thread's native callers, the copy does not.
func (s *Stack) CopyUntilMarker() {
	if !s.hasMarker {
		return
	}
	if len(s.safePointCopy) != 0 {
		panic("stackscan: safepoint stack copy already taken")
	}
	window := s.words[s.marker:]
	if len(window) == 0 {
		return
	}
	s.safePointCopy = make([]uintptr, len(window))
	copy(s.safePointCopy, window)
}

// Scan visits every scannable candidate word: everything up to the scope
// marker (or the whole window if none is set), plus the safepoint copy.
func (s *Stack) Scan(fn func(uintptr)) {
	end := len(s.words)
	if s.hasMarker {
		end = s.marker
	}
	for _, word := range s.words[:end] {
		fn(word)
	}
	for _, word := range s.safePointCopy {
		fn(word)
	}
}
