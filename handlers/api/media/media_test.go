package media

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvas-collab/blob"
	"canvas-collab/collab"
	"canvas-collab/core"
	"canvas-collab/handlers/auth"
	"canvas-collab/middleware"
	"canvas-collab/stores"
	"canvas-collab/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastOp(projectID string, op *core.Op) {}

func newTestServer(t *testing.T) (*chi.Mux, stores.Store, blob.Storage) {
	t.Helper()
	store := memory.NewStore()
	if err := store.CreateProject(context.Background(), &core.Project{
		ID:      "proj-1",
		Name:    "test",
		OwnerID: "owner-1",
		Members: []core.Member{
			{UserID: "viewer-1", Role: core.RoleViewer, JoinedAt: time.Now().UTC()},
		},
	}); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	blobs := blob.NewMemoryStorage()

	clock := core.SystemClock
	guard := collab.NewGuard(store)
	seq := collab.NewSequencer(store, clock)
	mat := collab.NewMaterializer(store, store, clock)
	snap := collab.NewSnapshotter(store, store, store, store, clock, 0)
	svc := collab.NewService(guard, seq, mat, snap, store, nopBroadcaster{})

	r := chi.NewRouter()
	r.Post("/api/projects/{projectID}/media", HandleUpload(store, blobs, svc, clock))
	r.Get("/api/media/{mediaID}", HandleGet(store, svc))
	r.Get("/api/media/{mediaID}/content", HandleDownload(store, blobs, svc))
	return r, store, blobs
}

func withClaims(r *http.Request, userID string) *http.Request {
	claims := &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Login:            userID,
	}
	ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, claims)
	return r.WithContext(ctx)
}

func TestHandleUpload(t *testing.T) {
	router, store, _ := newTestServer(t)

	body := bytes.NewBufferString("fake image bytes")
	req := withClaims(httptest.NewRequest("POST", "/api/projects/proj-1/media?width=640&height=480", body), "owner-1")
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var m core.Media
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if m.ID == "" || m.ProjectID != "proj-1" {
		t.Errorf("Media record mismatch: %+v", m)
	}
	if m.Meta.Width != 640 || m.Meta.Height != 480 {
		t.Errorf("Dimensions mismatch: got %dx%d, want 640x480", m.Meta.Width, m.Meta.Height)
	}
	if m.Meta.Format != "image/png" || m.Meta.SizeBytes != int64(len("fake image bytes")) {
		t.Errorf("Meta mismatch: %+v", m.Meta)
	}

	stored, err := store.GetMedia(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if stored.RefCount != 0 {
		t.Errorf("Fresh upload must start unreferenced, got refCount %d", stored.RefCount)
	}
}

func TestHandleUpload_ViewerForbidden(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := withClaims(httptest.NewRequest("POST", "/api/projects/proj-1/media", bytes.NewBufferString("x")), "viewer-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestHandleUpload_EmptyBody(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := withClaims(httptest.NewRequest("POST", "/api/projects/proj-1/media", nil), "owner-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleDownload(t *testing.T) {
	router, _, _ := newTestServer(t)

	body := bytes.NewBufferString("blob payload")
	req := withClaims(httptest.NewRequest("POST", "/api/projects/proj-1/media", body), "owner-1")
	req.Header.Set("Content-Type", "application/pdf")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Upload failed with status %d: %s", w.Code, w.Body.String())
	}
	var m core.Media
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	req = withClaims(httptest.NewRequest("GET", "/api/media/"+m.ID+"/content", nil), "viewer-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "blob payload" {
		t.Errorf("Content mismatch: got %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type mismatch: got %q", ct)
	}
}
