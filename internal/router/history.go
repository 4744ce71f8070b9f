package router

// history is a fixed-size ring of archived commands, oldest overwritten first.
type history struct {
	buf  []CommandResult
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 100
	}
	return &history{buf: make([]CommandResult, size)}
}

func (h *history) push(r CommandResult) {
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// list returns archived commands oldest first.
func (h *history) list() []CommandResult {
	if !h.full {
		return append([]CommandResult(nil), h.buf[:h.next]...)
	}
	out := make([]CommandResult, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

func (h *history) find(id string) (CommandResult, bool) {
	n := h.next
	if h.full {
		n = len(h.buf)
	}
	for i := 0; i < n; i++ {
		if h.buf[i].ID == id {
			return h.buf[i], true
		}
	}
	return CommandResult{}, false
}
