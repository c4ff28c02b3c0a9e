package turn

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
)

type recordingSender struct {
	sent []*activity.Activity
	err  error
}

func (r *recordingSender) SendActivities(_ context.Context, _ *Context, activities []*activity.Activity) ([]activity.ResourceResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.sent = append(r.sent, activities...)
	out := make([]activity.ResourceResponse, len(activities))
	for i := range activities {
		out[i] = activity.ResourceResponse{ID: "SM" + string(rune('0'+i))}
	}
	return out, nil
}

func (r *recordingSender) UpdateActivity(context.Context, *Context, *activity.Activity) error {
	return errors.New("update unsupported")
}

func (r *recordingSender) DeleteActivity(context.Context, *Context, activity.ConversationReference) error {
	return errors.New("delete unsupported")
}

func inbound() *activity.Activity {
	return &activity.Activity{
		Type:         activity.KindMessage,
		ID:           "SM-in",
		ChannelID:    activity.ChannelWhatsApp,
		Conversation: activity.ConversationAccount{ID: "whatsapp:+1555"},
		From:         activity.ChannelAccount{ID: "whatsapp:+1555"},
		Recipient:    activity.ChannelAccount{ID: "whatsapp:+1000"},
	}
}

func TestContextDefaults(t *testing.T) {
	tc := NewContext(nil, inbound())
	assert.Equal(t, http.StatusOK, tc.Status())
	assert.Nil(t, tc.Body())
	assert.False(t, tc.Responded())

	tc.SetStatus(http.StatusAccepted)
	tc.SetBody("ok")
	tc.Set("k", 1)
	assert.Equal(t, http.StatusAccepted, tc.Status())
	assert.Equal(t, "ok", tc.Body())
	v, ok := tc.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestSendActivityAddressesReply(t *testing.T) {
	sender := &recordingSender{}
	tc := NewContext(sender, inbound())

	resp, err := tc.SendActivity(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM0", resp.ID)
	assert.True(t, tc.Responded())

	require.Len(t, sender.sent, 1)
	reply := sender.sent[0]
	assert.Equal(t, "whatsapp:+1555", reply.Conversation.ID)
	assert.Equal(t, "whatsapp:+1000", reply.From.ID)
	assert.Equal(t, "SM-in", reply.ReplyToID)
}

func TestSendWithoutSender(t *testing.T) {
	tc := NewContext(nil, inbound())
	_, err := tc.SendActivity(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, tc.UpdateActivity(context.Background(), inbound()))
	assert.Error(t, tc.DeleteActivity(context.Background(), activity.ConversationReference{}))
}

func TestSetRunsInOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return MiddlewareFunc(func(ctx context.Context, tc *Context, next func(context.Context) error) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		})
	}

	set := NewSet(mw("a"), nil, mw("b"))
	err := set.Run(context.Background(), NewContext(nil, inbound()), func(ctx context.Context, tc *Context) error {
		order = append(order, "logic")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:before", "b:before", "logic", "b:after", "a:after"}, order)
}

func TestSetShortCircuit(t *testing.T) {
	called := false
	set := NewSet(MiddlewareFunc(func(ctx context.Context, tc *Context, next func(context.Context) error) error {
		tc.SetStatus(http.StatusNoContent)
		return nil
	}))
	tc := NewContext(nil, inbound())
	require.NoError(t, set.Run(context.Background(), tc, func(context.Context, *Context) error {
		called = true
		return nil
	}))
	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, tc.Status())
}

func TestNilSetRunsLogic(t *testing.T) {
	var set *Set
	wantErr := errors.New("logic failed")
	err := set.Run(context.Background(), NewContext(nil, inbound()), func(context.Context, *Context) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}
