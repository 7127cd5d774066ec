package telegram

import (
	"context"
	"errors"
	"log"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

const (
	baseDelay = 1 * time.Second
	maxDelay  = 15 * time.Second
)

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

// RetryDelay picks how long to wait after a failed GetUpdates call.
func RetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	d := baseDelay
	s := strings.ToLower(err.Error())
	var ne net.Error
	switch {
	case strings.Contains(s, "too many requests"):
		d = 3 * time.Second
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				d = time.Duration(n) * time.Second
			}
		}
	case errors.As(err, &ne) && ne.Timeout():
		d = 2 * time.Second
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Poll long-polls bot until ctx is done, handing each update to handle in
// order.
func Poll(ctx context.Context, bot Updater, handle func(tgbotapi.Update)) {
	offset := 0
	for {
		if ctx.Err() != nil {
			log.Printf("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := RetryDelay(err)
			log.Printf("polling error: %v; retry in %v", err, d)
			if !sleep(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			dispatch(upd, handle)
		}

		if len(updates) == 0 && !sleep(ctx, 200*time.Millisecond) {
			return
		}
	}
}

// dispatch keeps a panicking update from stopping the loop.
func dispatch(upd tgbotapi.Update, handle func(tgbotapi.Update)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("update %d: recovered panic: %v", upd.UpdateID, r)
		}
	}()
	handle(upd)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
