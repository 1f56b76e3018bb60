package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// natsImage is the JetStream-capable server used by integration tests.
const natsImage = "nats:2.11.7-alpine"

// TestServer is a containerized NATS server with a connected Client.
type TestServer struct {
	Client *Client
	URL    string
}

// StartTestServer runs a JetStream server for the life of t, connects a
// Client to it and creates the named KV buckets. Everything is torn down by
// t.Cleanup.
func StartTestServer(t testing.TB, buckets ...string) *TestServer {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"-js", "-m", "8222"},
			WaitingFor: wait.ForHTTP("/healthz").
				WithPort("8222/tcp").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start nats container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("nats endpoint: %v", err)
	}

	client, err := NewClient(endpoint, WithName("nexus-test"), WithMaxReconnects(0), WithHealthInterval(0))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("connect %s: %v", endpoint, err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, b := range buckets {
		if _, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: b, History: 1}); err != nil {
			t.Fatalf("create bucket %s: %v", b, err)
		}
	}
	return &TestServer{Client: client, URL: endpoint}
}
