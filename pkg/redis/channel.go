package redis

import (
	"context"
	"fmt"
)

// Publish broadcasts payload to every current subscriber of channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Listen subscribes to channel and calls handle for each message until ctx
// ends or the subscription drops.
func (c *Client) Listen(ctx context.Context, channel string, handle func(payload string)) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription %s closed", channel)
			}
			handle(msg.Payload)
		}
	}
}
