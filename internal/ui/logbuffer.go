package ui

// logBuffer keeps the newest lines up to a fixed limit.
type logBuffer struct {
	lines []string
	limit int
}

func newLogBuffer(limit int) *logBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &logBuffer{lines: make([]string, 0, limit), limit: limit}
}

func (b *logBuffer) Append(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.limit; over > 0 {
		n := copy(b.lines, b.lines[over:])
		b.lines = b.lines[:n]
	}
}

func (b *logBuffer) Len() int { return len(b.lines) }

func (b *logBuffer) At(i int) string {
	if i < 0 || i >= len(b.lines) {
		return ""
	}
	return b.lines[i]
}

func (b *logBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

func (b *logBuffer) Clear() {
	b.lines = b.lines[:0]
}
