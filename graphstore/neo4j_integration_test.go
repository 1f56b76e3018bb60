//go:build integration

package graphstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNeo4j(t *testing.T) *DriverRunner {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/nexus-test-password"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("7687/tcp"),
				wait.ForLog("Started.").WithStartupTimeout(2*time.Minute),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	runner, err := NewDriverRunner(ctx, fmt.Sprintf("bolt://%s:%s", host, port.Port()),
		"neo4j", "nexus-test-password", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	return runner
}

func TestNeo4jIntegration_BuildAndRead(t *testing.T) {
	runner := startNeo4j(t)
	store, err := New(Options{Primary: NewNeo4jBackend(runner), Fallback: newSQLite(t)})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rep := store.BuildFromDatasets(ctx, []Study{
			{ID: "OSD-9", Title: "Rodent Research", Organism: "Mus musculus", Mission: "SpaceX CRS-3"},
		})
		require.Empty(t, rep.Failures)
		assert.Equal(t, []string{BackendNeo4j}, rep.Providers)
	}

	st := store.Stats(ctx)
	require.NotNil(t, st.Neo4jNodeCount)
	assert.Equal(t, int64(3), *st.Neo4jNodeCount)
	assert.Equal(t, int64(2), *st.Neo4jEdgeCount)
	assert.Equal(t, int64(0), *st.SQLiteNodeCount, "nothing fell back")

	g, err := store.Graph(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BackendNeo4j, g.Provider)
	assert.Equal(t, 2, g.EdgeCount)

	res, err := store.SearchNodes(ctx, "Mus", 10)
	require.NoError(t, err)
	assert.Equal(t, BackendNeo4j, res.Provider)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, OrganismNodeID("Mus musculus"), res.Nodes[0].ID)

	health := store.Ping(ctx)
	require.Len(t, health, 2)
	assert.True(t, health[0].Healthy)
}
