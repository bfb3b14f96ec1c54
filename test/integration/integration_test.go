package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	redisTC "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/obrunao/tech-challenge-fase3/pkg/adapters"
	"github.com/obrunao/tech-challenge-fase3/pkg/features"
	"github.com/obrunao/tech-challenge-fase3/pkg/ingest"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupPostgres(ctx context.Context, t *testing.T) *storage.SQLStore {
	t.Helper()
	pg, err := postgresContainer.Run(ctx,
		"postgres:16-alpine",
		postgresContainer.WithDatabase("weather"),
		postgresContainer.WithUsername("weather"),
		postgresContainer.WithPassword("weather"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := storage.OpenSQLStore(ctx, storage.SQLConfig{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	rc, err := redisTC.Run(ctx,
		"docker.io/redis:7",
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := rc.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := rc.Host(ctx)
	require.NoError(t, err)
	port, err := rc.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// fakeOpenMeteo serves 48 hours of São Paulo wall-clock data from 2024-05-01.
func fakeOpenMeteo(t *testing.T) *httptest.Server {
	t.Helper()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h := &adapters.Hourly{Series: map[string][]*float64{}}
	for i := range 48 {
		wall := start.Add(time.Duration(i) * time.Hour)
		temp := 18 + float64(wall.Hour()%12)
		hum, rain, wind := 70.0, 0.0, 3.5
		h.Time = append(h.Time, wall.Format("2006-01-02T15:04"))
		h.Series["temperature_2m"] = append(h.Series["temperature_2m"], &temp)
		h.Series["relative_humidity_2m"] = append(h.Series["relative_humidity_2m"], &hum)
		h.Series["precipitation"] = append(h.Series["precipitation"], &rain)
		// legacy alias
		h.Series["windspeed_10m"] = append(h.Series["windspeed_10m"], &wind)
	}
	body, err := json.Marshal(adapters.Payload{
		Latitude:  -23.55,
		Longitude: -46.63,
		Timezone:  "America/Sao_Paulo",
		Hourly:    h,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCollector(store storage.ObservationStore, providerURL string) (*ingest.Collector, *ingest.Merger) {
	logger := quietLogger()
	adapter := adapters.NewOpenMeteoAdapter(adapters.OpenMeteoConfig{
		ForecastURL: providerURL,
		ArchiveURL:  providerURL,
	})
	normalizer := ingest.NewNormalizer(ingest.NormalizerConfig{
		Now: func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}, logger)
	merger := ingest.NewMerger(store, storage.DefaultPrecision, logger)
	return ingest.NewCollector(adapter, normalizer, merger, logger), merger
}

func TestPostgresPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store := setupPostgres(ctx, t)
	provider := fakeOpenMeteo(t)
	collector, merger := newCollector(store, provider.URL)

	backfill := ingest.BackfillRequest{StartDate: "2024-05-01", EndDate: "2024-05-02"}
	loc := storage.NewLocation(-23.55052, -46.63331)

	t.Run("concurrent backfills insert each hour once", func(t *testing.T) {
		var (
			mu    sync.Mutex
			total int
			wg    sync.WaitGroup
		)
		for range 4 {
			wg.Go(func() {
				res := collector.Backfill(ctx, -23.55052, -46.63331, backfill)
				assert.True(t, res.OK(), res.Error)
				mu.Lock()
				total += res.InsertedRows
				mu.Unlock()
			})
		}
		wg.Wait()
		assert.Equal(t, 48, total)
	})

	t.Run("repeat run inserts nothing", func(t *testing.T) {
		res := collector.Backfill(ctx, -23.55052, -46.63331, backfill)
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, 0, res.InsertedRows)
		assert.Equal(t, 48, res.RowsReturned)
		assert.Equal(t, "America/Sao_Paulo", res.Timezone)
		require.NotNil(t, res.FirstTSUTC)
		assert.Equal(t, "2024-05-01T03:00:00", *res.FirstTSUTC)
	})

	t.Run("history is ordered UTC", func(t *testing.T) {
		obs, err := store.ForLocation(ctx, loc)
		require.NoError(t, err)
		require.Len(t, obs, 48)
		assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), obs[0].Timestamp)
		for i := 1; i < len(obs); i++ {
			assert.Equal(t, time.Hour, obs[i].Timestamp.Sub(obs[i-1].Timestamp))
		}
		require.NotNil(t, obs[0].WindSpeed)
		assert.Equal(t, 3.5, *obs[0].WindSpeed)
		assert.Equal(t, 0, features.CountGaps(obs))
	})

	t.Run("feature table mirrors into postgres", func(t *testing.T) {
		obs, err := store.All(ctx)
		require.NoError(t, err)
		frame, err := features.NewBuilder().BuildAll(obs)
		require.NoError(t, err)
		require.Len(t, frame.Rows, 48-features.MaxLag-1)

		require.NoError(t, store.ReplaceFeatures(ctx, features.ToRecords(frame.Rows)))
		// replacing again must not collide on the primary key
		require.NoError(t, store.ReplaceFeatures(ctx, features.ToRecords(frame.Rows)))
	})

	t.Run("delete location", func(t *testing.T) {
		n, err := merger.DeleteLocation(ctx, -23.55049, -46.63334)
		require.NoError(t, err)
		assert.Equal(t, 48, n)

		n, err = merger.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestPostgresUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store := setupPostgres(ctx, t)
	require.NoError(t, store.Close())

	_, err := store.ForLocation(ctx, storage.NewLocation(0, 0))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	_, err = store.InsertIfAbsent(ctx, []storage.Observation{{Timestamp: time.Now().UTC().Truncate(time.Hour)}})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestRedisPredictionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	addr := setupRedis(ctx, t)

	store, err := storage.NewRedisStore(addr, "", 0, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	loc := storage.NewLocation(-23.5505, -46.6333)
	anchor := time.Date(2024, 7, 3, 11, 0, 0, 0, time.UTC)
	snap := storage.PredictionSnapshot{
		Location:    loc,
		GeneratedAt: anchor.Add(20 * time.Minute),
		AnchorTime:  anchor,
		TargetTime:  anchor.Add(time.Hour),
		Temperature: 21.7,
		Model:       "forest",
		RunID:       "run-1",
	}
	require.NoError(t, store.Put(snap))

	got, found, err := store.GetLatest(loc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.Temperature, got.Temperature)
	assert.True(t, got.TargetTime.Equal(snap.TargetTime))
	assert.Equal(t, "run-1", got.RunID)

	_, found, err = store.GetLatest(storage.NewLocation(38.7223, -9.1393))
	require.NoError(t, err)
	assert.False(t, found)

	// the snapshot expires with the key
	assert.Eventually(t, func() bool {
		_, found, err := store.GetLatest(loc)
		return err == nil && !found
	}, 10*time.Second, 250*time.Millisecond)
}

func TestRedisUnreachable(t *testing.T) {
	store, err := storage.NewRedisStore("127.0.0.1:1", "", 0, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	err = store.Ping(context.Background())
	assert.True(t, errors.Is(err, storage.ErrUnavailable), "error = %v", err)
}
