package pipeline

import "strings"

// splitter buffers streamed LLM tokens and releases sentence-sized chunks to
// TTS as soon as a reasonable boundary is reached: a sentence terminator, or
// maxChars with no better boundary nearby.
type splitter struct {
	buffer   string
	maxChars int
}

func newSplitter(maxChars int) *splitter {
	if maxChars <= 0 {
		maxChars = 160
	}
	return &splitter{maxChars: maxChars}
}

// Push appends a token and returns zero or more chunks ready to forward.
func (s *splitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buffer += token
	return s.drain(false)
}

// Finalize flushes whatever remains once the LLM stream ends.
func (s *splitter) Finalize() []string {
	return s.drain(true)
}

func (s *splitter) drain(force bool) []string {
	var out []string
	for {
		chunk, rest, ok := nextChunk(s.buffer, s.maxChars, force)
		if !ok {
			break
		}
		s.buffer = rest
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func nextChunk(input string, maxChars int, force bool) (chunk, rest string, ok bool) {
	if input == "" {
		return "", "", false
	}
	if idx := strongBoundary(input); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}
	if len(input) < maxChars {
		if force {
			return input, "", true
		}
		return "", input, false
	}
	if idx := weakBoundary(input, maxChars); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}
	if idx := whitespaceBoundary(input, maxChars); idx >= 0 {
		return input[:idx], input[idx:], true
	}
	// No boundary at all within budget: force a hard cut so one token storm
	// can't stall synthesis indefinitely.
	if len(input) >= maxChars {
		return input[:maxChars], input[maxChars:], true
	}
	if force {
		return input, "", true
	}
	return "", input, false
}

// strongBoundary finds the first sentence terminator anywhere in input —
// producing a chunk as soon as one is complete keeps latency low even when
// it's shorter than maxChars.
func strongBoundary(input string) int {
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}

func weakBoundary(input string, maxChars int) int {
	limit := len(input)
	for i := maxChars - 1; i >= 0 && i < limit; i-- {
		switch input[i] {
		case ',', ';', ':':
			return i
		}
	}
	return -1
}

func whitespaceBoundary(input string, maxChars int) int {
	for i := maxChars - 1; i > 0; i-- {
		switch input[i] {
		case ' ', '\t', '\n':
			return i
		}
	}
	return -1
}
