package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/config"
	"github.com/famlinks/kinship/internal/core/bridge"
	"github.com/famlinks/kinship/internal/core/cluster"
	"github.com/famlinks/kinship/internal/core/dedupe"
	"github.com/famlinks/kinship/internal/core/kinship"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.Default()
	require.NoError(t, err)
	d := driver.NewMemoryDriver()
	trav := traverse.New(d, 12, 8)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(d, cat, trav, log)
	cfg := config.Default()

	srv := NewServer(st,
		kinship.NewClassifier(d, trav, cat, cfg.Graph.MaxAlternatePaths),
		kinship.NewResolver(cat),
		dedupe.NewDetector(d, cfg.Dedupe, log),
		dedupe.NewReviewer(d, st, log),
		bridge.NewMatcher(d, st, trav, cfg.Bridge, log),
		cluster.New(d),
		log)
	return srv.SetupRouter()
}

func do(t *testing.T, r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPersonLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/persons", map[string]any{
		"id": "p1", "first_name": "Ivan", "last_name": "Orlov",
		"gender": "male", "is_living": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodGet, "/persons/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ivan", decode(t, w)["first_name"])

	w = do(t, r, http.MethodGet, "/persons/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPut, "/persons/p1", map[string]any{
		"first_name": "Ivan", "last_name": "Orlov", "middle_name": "Petrovich",
		"gender": "male", "is_living": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/persons", map[string]any{"is_living": "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelationshipEndpoints(t *testing.T) {
	r := newTestRouter(t)
	for _, id := range []string{"papa", "son"} {
		w := do(t, r, http.MethodPost, "/persons", map[string]any{
			"id": id, "first_name": id, "gender": "male", "is_living": true,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodPost, "/relationships", map[string]any{
		"from_id": "papa", "to_id": "son", "type_code": "parent",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	edgeID := decode(t, w)["id"].(string)

	// Unknown type code is rejected up front.
	w = do(t, r, http.MethodPost, "/relationships", map[string]any{
		"from_id": "papa", "to_id": "son", "type_code": "soulmate",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Closing a cycle is a conflict.
	w = do(t, r, http.MethodPost, "/relationships", map[string]any{
		"from_id": "son", "to_id": "papa", "type_code": "parent",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/persons/son/relationships", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/persons/son/ancestors?depth=3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodDelete, "/relationships/"+edgeID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	r := newTestRouter(t)
	for _, id := range []string{"papa", "son"} {
		w := do(t, r, http.MethodPost, "/persons", map[string]any{
			"id": id, "first_name": id, "gender": "male", "is_living": true,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(t, r, http.MethodPost, "/relationships", map[string]any{
		"from_id": "papa", "to_id": "son", "type_code": "parent",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodGet, "/relationships/classify?a=son&b=papa&locale=ru", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "отец", body["label"])

	// Missing params.
	w = do(t, r, http.MethodGet, "/relationships/classify?a=son", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown person.
	w = do(t, r, http.MethodGet, "/relationships/classify?a=son&b=nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDuplicateReviewFlow(t *testing.T) {
	r := newTestRouter(t)
	for _, id := range []string{"d1", "d2"} {
		w := do(t, r, http.MethodPost, "/persons", map[string]any{
			"id": id, "first_name": "Boris", "last_name": "Orlov",
			"gender": "male", "is_living": true,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodPost, "/duplicates/check", map[string]any{
		"profile_a": "d1", "profile_b": "d2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	dupID := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodGet, "/duplicates?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/duplicates/"+dupID+"/confirm", map[string]any{
		"kept_profile_id": "d1", "reviewed_by": "archivist",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Contradicting the settled pair is a conflict.
	w = do(t, r, http.MethodPost, "/duplicates/"+dupID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The merged profile records where it went.
	w = do(t, r, http.MethodGet, "/persons/d2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d1", decode(t, w)["merged_into_id"])
}

func TestBridgeFlowAndTrees(t *testing.T) {
	r := newTestRouter(t)
	people := []map[string]any{
		{"id": "req", "first_name": "Sergei", "last_name": "Volkov", "gender": "male", "is_living": true},
		{"id": "target", "first_name": "Dmitri", "last_name": "Orlov", "gender": "male", "is_living": true},
		{"id": "tf", "first_name": "Ivan", "last_name": "Orlov", "gender": "male", "is_living": true},
	}
	for _, p := range people {
		w := do(t, r, http.MethodPost, "/persons", p)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(t, r, http.MethodPost, "/relationships", map[string]any{
		"from_id": "tf", "to_id": "target", "type_code": "parent",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// A hint resembling nobody is unprocessable, not a server fault.
	w = do(t, r, http.MethodPost, "/bridges", map[string]any{
		"requester_id": "req", "target_id": "target",
		"claimed_relationship": "sibling",
		"common_ancestor_hint": map[string]any{"name": "Jessup"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, r, http.MethodPost, "/bridges", map[string]any{
		"requester_id": "req", "target_id": "target",
		"claimed_relationship": "sibling",
		"common_ancestor_hint": map[string]any{"name": "Ivan Orlov"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["already_connected"])
	reqID := body["request"].(map[string]any)["id"].(string)

	w = do(t, r, http.MethodPost, "/bridges/"+reqID+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Accepting merged the two trees into one.
	w = do(t, r, http.MethodGet, "/trees", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trees := decode(t, w)["trees"].([]any)
	require.Len(t, trees, 1)

	// The settled request cannot be rejected.
	w = do(t, r, http.MethodPost, "/bridges/"+reqID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
