package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// lanes runs jobs one at a time per key, with at most cap(sem) keys busy.
type lanes struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending map[int64][]func()
}

func newLanes(workers int) *lanes {
	if workers <= 0 {
		workers = 1
	}
	return &lanes{sem: make(chan struct{}, workers), pending: make(map[int64][]func())}
}

func (l *lanes) submit(key int64, job func()) {
	l.mu.Lock()
	queue, busy := l.pending[key]
	l.pending[key] = append(queue, job)
	l.mu.Unlock()
	if busy {
		return
	}
	l.wg.Add(1)
	go l.drain(key)
}

func (l *lanes) drain(key int64) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		queue := l.pending[key]
		if len(queue) == 0 {
			delete(l.pending, key)
			l.mu.Unlock()
			return
		}
		job := queue[0]
		queue[0] = nil
		l.pending[key] = queue[1:]
		l.mu.Unlock()

		l.sem <- struct{}{}
		job()
		<-l.sem
	}
}

func (l *lanes) wait() {
	l.wg.Wait()
}

// chatKey picks the chat an update belongs to.
func chatKey(upd tgbotapi.Update) int64 {
	if q := upd.CallbackQuery; q != nil {
		if q.Message != nil && q.Message.Chat != nil {
			return q.Message.Chat.ID
		}
		if q.From != nil {
			return q.From.ID
		}
		return 0
	}
	if m := upd.Message; m != nil && m.Chat != nil {
		return m.Chat.ID
	}
	return 0
}
