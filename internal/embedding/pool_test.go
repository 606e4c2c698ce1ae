package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
	"github.com/remembr/remembr/internal/testutil"
)

func newTestClient(t *testing.T, vector []float32) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: vector}}})
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Model: "test-model"})
}

func createPlainEpisode(t *testing.T, db *gorm.DB, orgID uuid.UUID) storage.Episode {
	t.Helper()
	var ep storage.Episode
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		ep = storage.Episode{OrgID: orgID, Role: "user", Content: "hello"}
		return tx.Create(&ep).Error
	}))
	return ep
}

func TestPoolEnqueuePersistsEmbedding(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)
	ep := createPlainEpisode(t, db, orgID)

	client := newTestClient(t, []float32{0.1, 0.2, 0.3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(ctx, client, db, zap.NewNop(), 1)
	pool.Enqueue(ep.ID, orgID, "hello")
	pool.Stop()

	var embeddings []storage.Embedding
	require.NoError(t, tenant.Bind(db, orgID).Where("episode_id = ?", ep.ID).Find(&embeddings).Error)
	require.Len(t, embeddings, 1)
	assert.Equal(t, "test-model", embeddings[0].Model)
	assert.Equal(t, 3, embeddings[0].Dimensions)
}

func TestPoolSkipsEnrichmentForDeletedEpisode(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	client := newTestClient(t, []float32{0.1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(ctx, client, db, zap.NewNop(), 1)
	pool.Enqueue(uuid.New(), orgID, "ghost episode")
	pool.Stop()

	var count int64
	require.NoError(t, tenant.Bind(db, orgID).Model(&storage.Embedding{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	db := testutil.NewDB(t)
	client := newTestClient(t, []float32{0.1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(ctx, client, db, zap.NewNop(), 0)
	assert.Equal(t, 4, pool.workers)
	pool.Stop()
}

func TestPoolEnqueueDropsWhenQueueFull(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	client := newTestClient(t, []float32{0.1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Zero workers never drain the queue, so it saturates at its fixed
	// capacity and further Enqueue calls become no-ops instead of blocking.
	pool := &Pool{
		client:    client,
		db:        db,
		log:       zap.NewNop(),
		queue:     make(chan job, 1),
		workers:   0,
		queueSize: noopGauge{},
	}

	pool.Enqueue(uuid.New(), orgID, "first")
	pool.Enqueue(uuid.New(), orgID, "second")
	assert.Len(t, pool.queue, 1, "second enqueue on a full queue is dropped, not blocked")
}
