package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optviz/internal/models"
	"optviz/internal/pricefeed"
)

func TestHub_SlowConsumerDoesNotBlock(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 2}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	slow := hub.Subscribe("ETH", "slow")
	fast := hub.Subscribe("ETH", "fast")

	got := make(chan int, 1)
	go func() {
		n := 0
		for range fast {
			n++
			if n == 10 {
				got <- n
				return
			}
		}
	}()

	for i := 0; i < 10; i++ {
		hub.Publish(models.SpotQuote{Token: "ETH", Price: float64(3000 + i)})
		time.Sleep(time.Millisecond)
	}

	select {
	case n := <-got:
		assert.Equal(t, 10, n)
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber starved")
	}

	assert.Len(t, slow, 2)
	assert.Eventually(t, func() bool { return hub.Metrics().QuotesDropped >= 8 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnsubscribeAndStop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Start(context.Background())

	a := hub.Subscribe("ETH", "a")
	b := hub.Subscribe("SOL", "b")
	assert.Equal(t, []string{"ETH", "SOL"}, hub.Tokens())

	hub.Unsubscribe("ETH", a)
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, []string{"SOL"}, hub.Tokens())
	assert.Equal(t, 0, hub.SubscriberCount("ETH"))

	hub.Stop()
	_, ok = <-b
	assert.False(t, ok)
	assert.False(t, hub.IsStarted())

	hub.Unsubscribe("SOL", b)
}

func TestPoller_PollOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	prices := pricefeed.NewStatic(map[string]float64{"ETH": 3000})
	p := NewPoller(hub, prices, time.Hour, zerolog.Nop())

	assert.Equal(t, 0, p.PollOnce(ctx))

	eth := hub.Subscribe("ETH", "eth")
	_ = hub.Subscribe("NOPE", "nope")
	assert.Equal(t, 1, p.PollOnce(ctx))

	select {
	case q := <-eth:
		assert.Equal(t, "ETH", q.Token)
		assert.Equal(t, 3000.0, q.Price)
	case <-time.After(time.Second):
		require.Fail(t, "no quote published")
	}
}

func TestPoller_Run(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	ch := hub.Subscribe("SOL", "sol")
	p := NewPoller(hub, pricefeed.NewStatic(map[string]float64{"SOL": 150}), 10*time.Millisecond, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case q := <-ch:
		assert.Equal(t, 150.0, q.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
