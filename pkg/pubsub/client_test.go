package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
)

func TestQualify(t *testing.T) {
	assert.Equal(t, "projects/ep-prod/topics/ep-payment-events", qualify("ep-prod", "topics", " ep-payment-events "))
	assert.Equal(t, "projects/other/subscriptions/s1", qualify("ep-prod", "subscriptions", "projects/other/subscriptions/s1"))
	// a topic path is not a subscription path
	assert.Equal(t, "projects/ep-prod/subscriptions/projects/x/topics/t", qualify("ep-prod", "subscriptions", "projects/x/topics/t"))
}

func TestOptionsPerRole(t *testing.T) {
	gcp := config.GCPConfig{ProjectID: "ep-prod"}
	cfg := config.PubSubConfig{
		NotificationTopic: "notify",
		PaymentsTopic:     "payments",
		ReportingTopic:    "notify",
		ReportingSub:      "reporting-sub",
		EventLifecycleSub: "lifecycle-sub",
	}

	pub := PublisherOptions(gcp, cfg)
	assert.Equal(t, []string{"notify", "payments"}, pub.Topics)
	assert.Empty(t, pub.Subscriptions)

	worker := WorkerOptions(gcp, cfg)
	assert.Equal(t, []string{"lifecycle-sub", "reporting-sub"}, worker.Subscriptions)
	assert.Empty(t, worker.Topics)
}

func TestNewClientValidatesOptions(t *testing.T) {
	_, err := NewClient(context.Background(), Options{Topics: []string{"t"}}, nil)
	assert.ErrorContains(t, err, "project id")
	_, err = NewClient(context.Background(), Options{ProjectID: "p"}, nil)
	assert.ErrorContains(t, err, "no pubsub")
}

func TestDescribe(t *testing.T) {
	assert.NoError(t, describe("topic", "t", nil))
	assert.EqualError(t, describe("topic", "t", status.Error(codes.NotFound, "gone")), `topic "t" does not exist`)
	assert.ErrorContains(t, describe("subscription", "s", errors.New("deadline")), "checking subscription")
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("t"))
	assert.Nil(t, c.Subscriber("s"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
