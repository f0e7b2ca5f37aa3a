package integration

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventum-go/adapters/nats"
	"github.com/codewandler/eventum-go/core/config"
	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/fsm"
	"github.com/codewandler/eventum-go/core/materializer"
	"github.com/codewandler/eventum-go/provider"
)

type tenant struct {
	Name  string `json:"name,omitempty"`
	Seats int    `json:"seats,omitempty"`
}

func mergeTenant(current, changes tenant) tenant {
	if changes.Name != "" {
		current.Name = changes.Name
	}
	if changes.Seats != 0 {
		current.Seats = changes.Seats
	}
	return current
}

var tenantRules = fsm.NewRules(
	fsm.WithEventPrefix[tenant]("Tenant"),
	fsm.WithMerge(mergeTenant),
)

// startServer serves the journal functions from a SQLite backend.
func startServer(t *testing.T, connect nats.Connector, cfg config.Config) {
	backendCfg := cfg
	backendCfg.Provider = config.ProviderSQLite
	backendCfg.SQLite.Path = t.TempDir() + "/journal.db"
	backendCfg.NATS.PublishPrefix = ""

	backend, err := provider.NewJournalConnector(t.Context(), backendCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	srv, err := nats.NewFunctionServer(nats.FunctionServerConfig{
		Connect:   connect,
		Functions: nats.FunctionsFromConfig(cfg),
		Backend:   backend,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.WithoutCancel(t.Context())))
	t.Cleanup(func() { _ = srv.Close() })
}

// newProcess is one application process talking to the journal functions.
func newProcess(t *testing.T, connect nats.Connector, cfg config.Config) (*provider.Connector, *es.Dispatcher[fsm.State[tenant]]) {
	conn, err := provider.NewJournalConnector(t.Context(), cfg, provider.WithNATSConnector(connect))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	d, err := es.NewDispatcher(conn, tenantRules.NewBehavior, cfg.Aggregate(), es.WithKind("tenant"))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return conn, d
}

func execute(ctx context.Context, d *es.Dispatcher[fsm.State[tenant]], id string, cmd fsm.Command) (fsm.State[tenant], error) {
	var state fsm.State[tenant]
	err := d.Do(ctx, id, func(ctx context.Context, a *es.Aggregate[fsm.State[tenant]]) (err error) {
		state, err = fsm.Execute(ctx, a, tenantRules, cmd)
		return
	})
	return state, err
}

func TestIntegration(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	connect := nats.ReuseConnection(nats.NewTestContainer(t))

	cfg := config.Default()
	cfg.ServiceName = "integration"
	cfg.Stage = "test"
	cfg.Snapshot.Delta = 2
	cfg.Functions.Timeout = 5 * time.Second
	cfg.NATS.PublishPrefix = "integration.events"

	startServer(t, connect, cfg)

	var (
		mu       sync.Mutex
		received = map[string]int{}
	)
	readModel := materializer.Chain(materializer.Func(func(_ context.Context, e es.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received[e.EventType]++
		return nil
	}), materializer.SkipSeen())
	sub, err := nats.Subscribe(t.Context(), connect, cfg.NATS.PublishPrefix, readModel, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	conn, a := newProcess(t, connect, cfg)
	_, b := newProcess(t, connect, cfg)

	id := uuid.NewString()
	ctx := t.Context()

	_, err = conn.GetJournal(ctx, id)
	require.ErrorIs(t, err, es.ErrJournalNotFound)

	state, err := execute(ctx, a, id, fsm.Create[tenant]{Entity: tenant{Name: "acme", Seats: 5}})
	require.NoError(t, err)
	require.True(t, state.IsActive())

	_, err = execute(ctx, b, id, fsm.Create[tenant]{Entity: tenant{Name: "other"}})
	require.ErrorIs(t, err, es.ErrCommandRejected)

	state, err = execute(ctx, b, id, fsm.Update[tenant]{Entity: tenant{Seats: 10}})
	require.NoError(t, err)
	p, _ := state.Entity()
	require.Equal(t, tenant{Name: "acme", Seats: 10}, p)

	// a still holds sequence 1; the backend assigns sequences, so the stale
	// write lands and is detected on return
	_, err = execute(ctx, a, id, fsm.Update[tenant]{Entity: tenant{Name: "acme corp"}})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// the stale instance was dropped and is rebuilt from the journal
	state, err = execute(ctx, a, id, fsm.Update[tenant]{Entity: tenant{Seats: 20}})
	require.NoError(t, err)
	p, _ = state.Entity()
	require.Equal(t, tenant{Name: "acme corp", Seats: 20}, p)

	_, err = execute(ctx, b, id, fsm.Delete{})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	_, err = execute(ctx, b, id, fsm.Delete{})
	require.ErrorIs(t, err, es.ErrCommandRejected)

	m, err := fsm.BuildMachine(ctx, id, conn, cfg.Aggregate(),
		fsm.WithEventPrefix[tenant]("Tenant"),
		fsm.WithMerge(mergeTenant),
	)
	require.NoError(t, err)
	require.True(t, m.Get().IsDeleted())
	require.Equal(t, es.Sequence(5), m.LastSequence())
	require.GreaterOrEqual(t, m.LastSnapshotSequence(), es.Sequence(2))

	journal, err := conn.GetJournal(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, journal.Snapshot)
	require.Equal(t, es.Sequence(5), journal.LastSequence())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received["TenantCreated"] == 1 && received["TenantUpdated"] == 3 && received["TenantDeleted"] == 1
	}, 5*time.Second, 10*time.Millisecond)
}
