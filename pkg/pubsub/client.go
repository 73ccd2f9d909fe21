// Package pubsub wraps the Pub/Sub v2 client with the resource checks each
// binary needs at boot and in readiness probes.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

// Options lists the resources a process depends on. Each must exist; the
// client never creates topics or subscriptions.
type Options struct {
	ProjectID     string
	Topics        []string
	Subscriptions []string
	ClientOptions []option.ClientOption
}

// PublisherOptions covers the outbox relay: every topic the registry routes to.
func PublisherOptions(gcp config.GCPConfig, cfg config.PubSubConfig) Options {
	return Options{
		ProjectID:     gcp.ProjectID,
		Topics:        compact(cfg.NotificationTopic, cfg.PaymentsTopic, cfg.ReportingTopic),
		ClientOptions: gcp.ClientOptions(),
	}
}

// WorkerOptions covers the event worker's two subscriptions.
func WorkerOptions(gcp config.GCPConfig, cfg config.PubSubConfig) Options {
	return Options{
		ProjectID:     gcp.ProjectID,
		Subscriptions: compact(cfg.EventLifecycleSub, cfg.ReportingSub),
		ClientOptions: gcp.ClientOptions(),
	}
}

type Client struct {
	client *gcppubsub.Client
	opts   Options
}

// NewClient dials Pub/Sub and verifies the resources in opts.
func NewClient(ctx context.Context, opts Options, logg *logger.Logger) (*Client, error) {
	opts.ProjectID = strings.TrimSpace(opts.ProjectID)
	if opts.ProjectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	if len(opts.Topics)+len(opts.Subscriptions) == 0 {
		return nil, errors.New("no pubsub topics or subscriptions configured")
	}
	raw, err := gcppubsub.NewClient(ctx, opts.ProjectID, opts.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: raw, opts: opts}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"topics":        opts.Topics,
			"subscriptions": opts.Subscriptions,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks every configured topic and subscription and reports all that
// are missing or unreachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	var errs error
	for _, name := range c.opts.Topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: qualify(c.opts.ProjectID, "topics", name),
		})
		errs = multierr.Append(errs, describe("topic", name, err))
	}
	for _, name := range c.opts.Subscriptions {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: qualify(c.opts.ProjectID, "subscriptions", name),
		})
		errs = multierr.Append(errs, describe("subscription", name, err))
	}
	return errs
}

func describe(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Subscriber returns a receive handle for a subscription id or full name.
func (c *Client) Subscriber(name string) *gcppubsub.Subscriber {
	if c == nil || c.client == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	return c.client.Subscriber(qualify(c.opts.ProjectID, "subscriptions", name))
}

// Publisher returns a publish handle for a topic id or full name.
func (c *Client) Publisher(name string) *gcppubsub.Publisher {
	if c == nil || c.client == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	return c.client.Publisher(qualify(c.opts.ProjectID, "topics", name))
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// qualify expands a short id to projects/<project>/<kind>/<id>. Names that
// are already fully qualified pass through.
func qualify(project, kind, name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return "projects/" + project + "/" + kind + "/" + name
}

func compact(names ...string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
