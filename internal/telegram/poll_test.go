package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(nil))
	assert.Equal(t, 5*time.Second, RetryDelay(errors.New("Too Many Requests: retry after 5")))
	assert.Equal(t, 3*time.Second, RetryDelay(errors.New("too many requests")))
	assert.Equal(t, maxDelay, RetryDelay(errors.New("Too Many Requests: retry after 120")))
	assert.Equal(t, 2*time.Second, RetryDelay(timeoutErr{}))
	assert.Equal(t, time.Second, RetryDelay(errors.New("bad gateway")))
}

type scriptedUpdater struct {
	batches [][]tgbotapi.Update
	offsets []int
	cancel  context.CancelFunc
}

func (s *scriptedUpdater) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	s.offsets = append(s.offsets, cfg.Offset)
	if len(s.batches) == 0 {
		s.cancel()
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func TestPollAdvancesOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &scriptedUpdater{
		batches: [][]tgbotapi.Update{
			{{UpdateID: 10}, {UpdateID: 11}},
			{{UpdateID: 12}},
		},
		cancel: cancel,
	}

	var seen []int
	Poll(ctx, up, func(u tgbotapi.Update) { seen = append(seen, u.UpdateID) })

	assert.Equal(t, []int{10, 11, 12}, seen)
	assert.Equal(t, []int{0, 12, 13}, up.offsets)
}

func TestPollSurvivesPanickingHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &scriptedUpdater{
		batches: [][]tgbotapi.Update{{{UpdateID: 1}, {UpdateID: 2}}},
		cancel:  cancel,
	}

	var seen []int
	assert.NotPanics(t, func() {
		Poll(ctx, up, func(u tgbotapi.Update) {
			seen = append(seen, u.UpdateID)
			if u.UpdateID == 1 {
				panic("decoder blew up")
			}
		})
	})
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []int{0, 3}, up.offsets)
}
