// Package turn holds the per-request state threaded through the bot pipeline
// and the minimal middleware chain that runs it.
package turn

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
)

// Sender is implemented by channel adapters able to deliver activities on
// behalf of a turn.
type Sender interface {
	SendActivities(ctx context.Context, tc *Context, activities []*activity.Activity) ([]activity.ResourceResponse, error)
	UpdateActivity(ctx context.Context, tc *Context, a *activity.Activity) error
	DeleteActivity(ctx context.Context, tc *Context, ref activity.ConversationReference) error
}

// Context is one inbound activity plus the response annotations the pipeline
// leaves for the adapter. A Context belongs to a single request.
type Context struct {
	activity *activity.Activity
	sender   Sender

	mu        sync.Mutex
	status    int
	body      any
	responded bool
	state     map[string]any
}

// NewContext creates a turn for a with the default 200 response status.
func NewContext(sender Sender, a *activity.Activity) *Context {
	return &Context{
		activity: a,
		sender:   sender,
		status:   http.StatusOK,
		state:    map[string]any{},
	}
}

// Activity returns the inbound activity.
func (c *Context) Activity() *activity.Activity { return c.activity }

// Status returns the HTTP status the adapter will write.
func (c *Context) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus overrides the HTTP status written back to the provider.
func (c *Context) SetStatus(code int) {
	c.mu.Lock()
	c.status = code
	c.mu.Unlock()
}

// Body returns the response body annotation, if any.
func (c *Context) Body() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// SetBody sets the response body written back to the provider.
func (c *Context) SetBody(body any) {
	c.mu.Lock()
	c.body = body
	c.mu.Unlock()
}

// Responded reports whether an activity was sent during this turn.
func (c *Context) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// Set stores a value in the turn state bag.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	c.state[key] = value
	c.mu.Unlock()
}

// Get reads a value from the turn state bag.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// SendActivity replies to the inbound activity with a text message.
func (c *Context) SendActivity(ctx context.Context, text string) (activity.ResourceResponse, error) {
	reply := activity.NewMessage("", text)
	responses, err := c.SendActivities(ctx, reply)
	if err != nil {
		return activity.ResourceResponse{}, err
	}
	if len(responses) == 0 {
		return activity.ResourceResponse{}, nil
	}
	return responses[0], nil
}

// SendActivities delivers activities through the adapter. Activities without
// addressing are addressed back to the sender of the inbound activity.
func (c *Context) SendActivities(ctx context.Context, activities ...*activity.Activity) ([]activity.ResourceResponse, error) {
	if c.sender == nil {
		return nil, errors.New("turn: no sender bound to context")
	}
	if c.activity != nil {
		ref := activity.GetConversationReference(c.activity)
		for _, a := range activities {
			if a != nil && a.Type == activity.KindMessage && a.Conversation.ID == "" {
				activity.ApplyConversationReference(a, ref, false)
			}
		}
	}
	responses, err := c.sender.SendActivities(ctx, c, activities)
	if len(responses) > 0 {
		c.mu.Lock()
		c.responded = true
		c.mu.Unlock()
	}
	return responses, err
}

// UpdateActivity asks the adapter to edit a previously sent activity.
func (c *Context) UpdateActivity(ctx context.Context, a *activity.Activity) error {
	if c.sender == nil {
		return errors.New("turn: no sender bound to context")
	}
	return c.sender.UpdateActivity(ctx, c, a)
}

// DeleteActivity asks the adapter to remove a previously sent activity.
func (c *Context) DeleteActivity(ctx context.Context, ref activity.ConversationReference) error {
	if c.sender == nil {
		return errors.New("turn: no sender bound to context")
	}
	return c.sender.DeleteActivity(ctx, c, ref)
}
