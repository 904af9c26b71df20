package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationDispatcherSuccess(t *testing.T) {
	client := &messagingStub{}
	activity := &activityStub{}
	dispatcher := NewNotificationDispatcher(client, activity, nil)

	ok := dispatcher.Dispatch(context.Background(), "@english_b2", "Bonjour")
	assert.True(t, ok)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "@english_b2", client.sent[0].destination)
	require.Len(t, activity.entries, 1)
	assert.True(t, activity.entries[0].Success)
	assert.Nil(t, activity.entries[0].Error)
}

func TestNotificationDispatcherFailureIsSwallowed(t *testing.T) {
	client := &messagingStub{err: errors.New("chat not found")}
	activity := &activityStub{}
	dispatcher := NewNotificationDispatcher(client, activity, nil)

	long := strings.Repeat("é", 300)
	ok := dispatcher.Dispatch(context.Background(), "@english_b2", long)
	assert.False(t, ok)
	require.Len(t, activity.entries, 1)
	entry := activity.entries[0]
	assert.False(t, entry.Success)
	require.NotNil(t, entry.Error)
	assert.Contains(t, *entry.Error, "chat not found")
	assert.Equal(t, activityPreviewLength+3, len([]rune(entry.Description)))
}

func TestNotificationDispatcherWithoutClient(t *testing.T) {
	activity := &activityStub{}
	dispatcher := NewNotificationDispatcher(nil, activity, nil)

	assert.False(t, dispatcher.Dispatch(context.Background(), "@english_b2", "hi"))
	require.Len(t, activity.entries, 1)
}

func TestNotificationDispatcherRecoversPanic(t *testing.T) {
	dispatcher := NewNotificationDispatcher(&messagingStub{panicMsg: "nil bot"}, &activityStub{}, nil)
	assert.NotPanics(t, func() {
		assert.False(t, dispatcher.Dispatch(context.Background(), "@english_b2", "hi"))
	})
}
