package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestLanesServeChatsConcurrently(t *testing.T) {
	l := newLanes(4)
	release := make(chan struct{})
	done := make(chan struct{})

	l.submit(1, func() { <-release })
	l.submit(2, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("chat 2 waited for the slow chat 1")
	}
	close(release)
	l.wait()
}

func TestLanesKeepChatOrder(t *testing.T) {
	l := newLanes(3)
	var (
		mu  sync.Mutex
		got = map[int64][]int{}
	)
	for i := 0; i < 50; i++ {
		for _, key := range []int64{7, 8} {
			l.submit(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	l.wait()
	for key, seq := range got {
		if len(seq) != 50 {
			t.Fatalf("chat %d handled %d updates", key, len(seq))
		}
		for i, v := range seq {
			if v != i {
				t.Fatalf("chat %d out of order at %d: %v", key, i, seq)
			}
		}
	}
}

func TestLanesRespectWorkerLimit(t *testing.T) {
	l := newLanes(1)
	release := make(chan struct{})
	started := make(chan struct{})
	var (
		mu  sync.Mutex
		ran bool
	)
	l.submit(1, func() {
		close(started)
		<-release
	})
	<-started
	l.submit(2, func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	early := ran
	mu.Unlock()
	if early {
		t.Fatalf("second chat ran past the worker limit")
	}
	close(release)
	l.wait()
	if !ran {
		t.Fatalf("second chat never ran")
	}
}

func TestChatKey(t *testing.T) {
	tests := []struct {
		name string
		upd  tgbotapi.Update
		want int64
	}{
		{"message", message(clientID, "hi"), clientID},
		{"button", press(staffID, "x"), staffID},
		{"inline button", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 9}}}, 9},
		{"empty", tgbotapi.Update{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatKey(tt.upd); got != tt.want {
				t.Fatalf("chatKey = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunReturnsAfterInFlightUpdates(t *testing.T) {
	e := newEnv(t)
	updates := make(chan tgbotapi.Update)
	finished := make(chan struct{})
	go func() {
		e.bot.Run(context.Background(), updates)
		close(finished)
	}()
	updates <- contact(clientID, "+375291112233", "Анна")
	updates <- command(adminID, "/start")
	close(updates)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	if _, err := e.stores.Users.Get(clientID); err != nil {
		t.Fatalf("contact update was not handled before Run returned")
	}
}
