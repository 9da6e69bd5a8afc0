package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishBuffered(t *testing.T) {
	obs := New[int](2)
	sub := obs.Subscribe()
	defer sub.Cancel()
	assert.Equal(t, 0, obs.Publish(1))
	assert.Equal(t, 0, obs.Publish(2))
	assert.Equal(t, 1, <-sub.Channel())
	assert.Equal(t, 2, <-sub.Channel())
}

func TestPublishFullSubscriberMisses(t *testing.T) {
	obs := New[int](1)
	slow := obs.Subscribe()
	defer slow.Cancel()
	assert.Equal(t, 0, obs.Publish(1))
	assert.Equal(t, 1, obs.Publish(2))
	assert.Equal(t, 1, <-slow.Channel())
	assert.Equal(t, 0, obs.Publish(3))
	assert.Equal(t, 3, <-slow.Channel())
}

func TestMultipleSubscribers(t *testing.T) {
	obs := New[string](2)
	sub1 := obs.Subscribe()
	defer sub1.Cancel()
	sub2 := obs.Subscribe()
	defer sub2.Cancel()
	assert.Equal(t, 2, obs.Len())

	obs.Publish("a")
	obs.Publish("b")
	for _, sub := range []*Subscriber[string]{sub1, sub2} {
		assert.Equal(t, "a", <-sub.Channel())
		assert.Equal(t, "b", <-sub.Channel())
	}
}

func TestCancel(t *testing.T) {
	obs := New[int](2)
	sub1 := obs.Subscribe()
	sub2 := obs.Subscribe()
	defer sub2.Cancel()
	sub1.Cancel()
	sub1.Cancel()
	assert.Equal(t, 1, obs.Len())

	obs.Publish(1)
	assert.Equal(t, 1, <-sub2.Channel())
	_, ok := <-sub1.Channel()
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	obs := New[int](2)
	sub := obs.Subscribe()
	obs.Publish(7)
	obs.Close()
	sub.Cancel()

	v, ok := <-sub.Channel()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	_, ok = <-sub.Channel()
	assert.False(t, ok)

	late := obs.Subscribe()
	_, ok = <-late.Channel()
	assert.False(t, ok)
	assert.Equal(t, 0, obs.Publish(8))
}

func TestPublishLoop(t *testing.T) {
	obs := New[int](100)
	subs := []*Subscriber[int]{obs.Subscribe(), obs.Subscribe(), obs.Subscribe()}
	go func() {
		for i := 0; i < 100; i++ {
			obs.Publish(i)
		}
	}()
	for i := 0; i < 100; i++ {
		for _, sub := range subs {
			assert.Equal(t, i, <-sub.Channel())
		}
	}
	for _, sub := range subs {
		sub.Cancel()
	}
}

func FuzzDataIntegrity(f *testing.F) {
	obs := New[string](1)
	sub := obs.Subscribe()
	defer sub.Cancel()

	for _, v := range []string{"a", "12a", "p45", "qwerty", ""} {
		f.Add(v)
	}

	f.Fuzz(func(t *testing.T, a string) {
		obs.Publish(a)
		assert.Equal(t, a, <-sub.Channel())
	})
}
