package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribeSystem(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.PublishSystem(SystemEvent{EventType: EventTaskStarted, Data: map[string]any{"task_id": "t1"}})

	select {
	case env := <-sub.C():
		require.NotNil(t, env.System)
		require.Equal(t, EventTaskStarted, env.System.EventType)
		require.Equal(t, "t1", env.System.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for system event")
	}
}

func TestBus_ChannelFiltering(t *testing.T) {
	b := New(nil)
	tgSub := b.Subscribe(ChannelTelegram)
	defer b.Unsubscribe(tgSub)
	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.PublishInbound(InboundMessage{Channel: ChannelTelegram, Content: "hi"})
	b.PublishInbound(InboundMessage{Channel: ChannelSlack, Content: "yo"})

	select {
	case env := <-tgSub.C():
		require.NotNil(t, env.Inbound)
		require.Equal(t, ChannelTelegram, env.Inbound.Channel)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for telegram event")
	}

	select {
	case env := <-tgSub.C():
		t.Fatalf("unexpected event on telegram-only subscriber: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}

	received := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.C():
			received++
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for all-channel subscriber")
		}
	}
	require.Equal(t, 2, received)
}

func TestBus_SystemEventReachesEveryChannelSubscriber(t *testing.T) {
	b := New(nil)
	tgSub := b.Subscribe(ChannelTelegram)
	defer b.Unsubscribe(tgSub)

	b.PublishSystem(SystemEvent{EventType: EventProjectCompleted})

	select {
	case env := <-tgSub.C():
		require.NotNil(t, env.System)
	case <-time.After(time.Second):
		t.Fatal("system event did not reach channel-scoped subscriber")
	}
}

func TestBus_NonBlockingPublish(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	// Overflow the buffer; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.PublishSystem(SystemEvent{EventType: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked under backpressure")
	}
	require.Greater(t, b.DroppedEventCount(), int64(0))
}

func TestBus_OrderPreservedPerSubscriber(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.PublishSystem(SystemEvent{EventType: EventTaskOutput, Data: map[string]any{"seq": i}})
	}

	for i := 0; i < 10; i++ {
		env := <-sub.C()
		require.Equal(t, i, env.System.Data["seq"])
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe("")
			b.PublishSystem(SystemEvent{EventType: "x"})
			b.Unsubscribe(sub)
		}()
	}
	wg.Wait()
	require.Equal(t, 0, b.SubscriberCount())
}
