package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()

	var got []Change
	hub.Subscribe(func(c Change) { got = append(got, c) })

	change := Change{Collection: "logs", Op: OpCreated, ID: "abc", UserID: "guest"}
	hub.Publish(change)

	assert.Equal(t, []Change{change}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	count := 0
	unsubscribe := hub.Subscribe(func(Change) { count++ })

	hub.Publish(Change{Collection: "logs", Op: OpCreated})
	unsubscribe()
	hub.Publish(Change{Collection: "logs", Op: OpDeleted})
	unsubscribe() // second call is harmless

	assert.Equal(t, 1, count)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	hub := NewHub()
	assert.NotPanics(t, func() {
		hub.Publish(Change{Collection: "logs", Op: OpUpdated})
	})
}
