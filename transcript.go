package gopherchat

import "sync"

// Direction tells where a transcript line came from
type Direction int

const (
	Sent Direction = iota + 1
	Received
	System
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// TranscriptLine is one display line. Seq is its position in the transcript.
type TranscriptLine struct {
	Seq       uint64
	Direction Direction
	Text      string
}

// Transcript is the append-only record of a chat. Appends from any goroutine
// are serialized; lines are never modified once appended.
type Transcript struct {
	mu          sync.RWMutex
	lines       []TranscriptLine
	subscribers map[int]chan TranscriptLine
	nextID      int
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{
		subscribers: make(map[int]chan TranscriptLine),
	}
}

// Append adds a line and notifies subscribers. A subscriber whose buffer is
// full misses the notification but can still read the line from Lines.
func (t *Transcript) Append(direction Direction, text string) TranscriptLine {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := TranscriptLine{
		Seq:       uint64(len(t.lines)),
		Direction: direction,
		Text:      text,
	}
	t.lines = append(t.lines, line)

	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return line
}

// Lines returns a copy of every line in order
func (t *Transcript) Lines() []TranscriptLine {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lines := make([]TranscriptLine, len(t.lines))
	copy(lines, t.lines)
	return lines
}

// Since returns a copy of the lines with Seq >= seq
func (t *Transcript) Since(seq uint64) []TranscriptLine {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if seq >= uint64(len(t.lines)) {
		return nil
	}
	lines := make([]TranscriptLine, uint64(len(t.lines))-seq)
	copy(lines, t.lines[seq:])
	return lines
}

// Len returns the number of lines
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lines)
}

// Subscribe returns a channel notified of every new line, and a function that
// cancels the subscription and closes the channel.
func (t *Transcript) Subscribe(buffer int) (<-chan TranscriptLine, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan TranscriptLine, buffer)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subscribers[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, id)
			close(ch)
			t.mu.Unlock()
		})
	}
}
