package sessionhub

import (
	"testing"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/stretchr/testify/assert"
)

func TestHub_PublishInSubscriptionOrder(t *testing.T) {
	h := New()
	var got []string

	h.Subscribe(func(ev domainauth.Event) { got = append(got, "a:"+string(ev.Kind)) })
	h.Subscribe(func(ev domainauth.Event) { got = append(got, "b:"+string(ev.Kind)) })

	h.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})

	assert.Equal(t, []string{"a:signed_in", "b:signed_in"}, got)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New()
	calls := 0
	unsub := h.Subscribe(func(domainauth.Event) { calls++ })
	other := h.Subscribe(func(domainauth.Event) {})

	unsub()
	unsub()
	h.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, h.Len())
	other()
	assert.Equal(t, 0, h.Len())
}

func TestHub_ListenerMayUnsubscribeDuringPublish(t *testing.T) {
	h := New()
	var unsub func()
	calls := 0
	unsub = h.Subscribe(func(domainauth.Event) {
		calls++
		unsub()
	})

	h.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})
	h.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})

	assert.Equal(t, 1, calls)
}

func TestHub_NilListener(t *testing.T) {
	h := New()
	unsub := h.Subscribe(nil)
	unsub()
	assert.Equal(t, 0, h.Len())
}
