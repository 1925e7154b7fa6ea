package publish

import "sync"

// ErrorHub は利用者向けエラーメッセージを複数の購読者に配信する。
// 購読者ごとに1件分のバッファを持ち、受信されていないメッセージがある購読者への配信は破棄する。
// 購読者がいない時点で発行されたメッセージはどこにも保持されない。
type ErrorHub struct {
	mu   sync.Mutex
	subs map[int]chan string
	next int
}

// NewErrorHub は新しいErrorHubを生成する。
func NewErrorHub() *ErrorHub {
	return &ErrorHub{subs: make(map[int]chan string)}
}

// Subscribe は購読チャネルと購読解除関数を返す。
// 購読解除するとチャネルはクローズされる。解除関数は複数回呼んでもよい。
func (h *ErrorHub) Subscribe() (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan string, 1)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Emit はメッセージを全購読者へ送る。ブロックせず、配信できた購読者数を返す。
func (h *ErrorHub) Emit(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}
