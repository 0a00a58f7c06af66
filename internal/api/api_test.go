package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	token  string
	uid    string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	items := store.NewTree(database, logger.Nop())
	t.Cleanup(items.Close)
	provider := session.NewProvider(database, testJWTSecret, time.Hour, logger.Nop())

	router := NewRouter(Deps{
		Provider: provider,
		Items:    items,
		Blobs:    store.NewBucket(database, "http://media.test"),
		Log:      logger.Nop(),
	})
	server := httptest.NewServer(LoggingMiddleware(TraceID(logger.Nop())(router)))
	t.Cleanup(server.Close)

	env := &testEnv{server: server}
	env.uid = register(t, server, "ana@example.com", "secret1")
	env.token = login(t, server, "ana@example.com", "secret1")
	return env
}

func register(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password, "name": "Ana"})
	resp, err := http.Post(server.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: %d", resp.StatusCode)
	}
	var id map[string]string
	json.NewDecoder(resp.Body).Decode(&id)
	return id["uid"]
}

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

// uploadItem posts the multipart upload form. A nil pic sends no file.
func uploadItem(t *testing.T, env *testEnv, token string, fields map[string]string, pic []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if pic != nil {
		fw, _ := mw.CreateFormFile("image", "chair.png")
		fw.Write(pic)
	}
	mw.Close()

	req, _ := http.NewRequest("POST", env.server.URL+"/api/items", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	return resp
}

func mustUpload(t *testing.T, env *testEnv, name, condition string) string {
	t.Helper()
	resp := uploadItem(t, env, env.token, map[string]string{
		"name": name, "condition": condition, "type": "furniture",
	}, testPNG(t))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out uploadResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.ID == "" {
		t.Fatal("empty item id")
	}
	return out.ID
}

func getCatalog(t *testing.T, env *testEnv, query url.Values) catalogResponse {
	t.Helper()
	resp, err := http.Get(env.server.URL + "/api/items?" + query.Encode())
	if err != nil {
		t.Fatalf("catalog request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out catalogResponse
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func getJSON(t *testing.T, env *testEnv, path string, target any) int {
	t.Helper()
	req, _ := authRequest("GET", env.server.URL+path, env.token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if target != nil && resp.StatusCode == http.StatusOK {
		json.NewDecoder(resp.Body).Decode(target)
	}
	return resp.StatusCode
}

func do(t *testing.T, env *testEnv, method, path string, body any) int {
	t.Helper()
	req, _ := authRequest(method, env.server.URL+path, env.token, body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{"email": "ana@example.com", "password": "wrong-password"})
	resp, _ := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterEndpoint(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name   string
		email  string
		pass   string
		status int
	}{
		{"weak password", "bo@example.com", "123", http.StatusBadRequest},
		{"invalid email", "not-an-email", "secret1", http.StatusBadRequest},
		{"taken", "ANA@example.com", "secret1", http.StatusConflict},
		{"ok", "bo@example.com", "secret1", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"email": tt.email, "password": tt.pass})
			resp, err := http.Post(env.server.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestUploadAndCatalogFlow(t *testing.T) {
	env := setupTestServer(t)

	id := mustUpload(t, env, "Oak chair", "new")

	all := getCatalog(t, env, url.Values{})
	if len(all.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(all.Items))
	}
	got := all.Items[0]
	if got.ID != id || got.Owner != env.uid || got.UserID != env.uid {
		t.Errorf("unexpected identity %+v", got)
	}
	if got.Email != "ana@example.com" {
		t.Errorf("expected owner email, got %q", got.Email)
	}
	if want := "http://media.test/media/itemPics/" + env.uid + "/chair.png"; got.Pic != want {
		t.Errorf("expected pic %q, got %q", want, got.Pic)
	}

	filtered := getCatalog(t, env, url.Values{"q": {"CHAIR"}, "condition": {"new"}})
	if len(filtered.Items) != 1 || filtered.NoResults {
		t.Errorf("expected a match, got %+v", filtered)
	}

	none := getCatalog(t, env, url.Values{"q": {"table"}})
	if len(none.Items) != 0 || !none.NoResults {
		t.Errorf("expected no results, got %+v", none)
	}
}

func TestCatalogRejectsUnknownCondition(t *testing.T) {
	env := setupTestServer(t)

	resp, _ := http.Get(env.server.URL + "/api/items?condition=mint")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadValidation(t *testing.T) {
	env := setupTestServer(t)

	resp := uploadItem(t, env, env.token, map[string]string{
		"name": "Chair", "condition": "new", "type": "furniture",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "Please select an image." {
		t.Errorf("unexpected error %q", body["error"])
	}

	if n := len(getCatalog(t, env, url.Values{}).Items); n != 0 {
		t.Errorf("expected no items after rejected upload, got %d", n)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	env := setupTestServer(t)

	resp := uploadItem(t, env, "", map[string]string{"name": "Chair"}, testPNG(t))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMyItemsFlow(t *testing.T) {
	env := setupTestServer(t)
	id := mustUpload(t, env, "Chair", "new")

	patch := map[string]string{"name": "Old chair", "condition": "worn-out", "type": "furniture"}
	if status := do(t, env, "PATCH", "/api/my-items/"+id, patch); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	var items []itemJSON
	if status := getJSON(t, env, "/api/my-items", &items); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(items) != 1 || items[0].Name != "Old chair" || items[0].Label != "Donation" {
		t.Errorf("unexpected items %+v", items)
	}
	if items[0].Suggestion != "Suitable for donation." {
		t.Errorf("unexpected suggestion %q", items[0].Suggestion)
	}
	if items[0].Pic == "" {
		t.Error("edit without picture dropped the old one")
	}

	if status := do(t, env, "PATCH", "/api/my-items/missing", patch); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	bad := map[string]string{"name": "", "condition": "new", "type": "furniture"}
	if status := do(t, env, "PATCH", "/api/my-items/"+id, bad); status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}

	if status := do(t, env, "DELETE", "/api/my-items/"+id, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	items = nil
	getJSON(t, env, "/api/my-items", &items)
	if len(items) != 0 {
		t.Errorf("expected no items after delete, got %d", len(items))
	}
}

func TestWatchlistFlow(t *testing.T) {
	env := setupTestServer(t)
	id := mustUpload(t, env, "Lamp", "new")

	if status := do(t, env, "PUT", "/api/watchlist/"+env.uid+"/"+id, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	var entries []itemJSON
	getJSON(t, env, "/api/watchlist", &entries)
	if len(entries) != 1 || entries[0].Name != "Lamp" || entries[0].Owner != env.uid {
		t.Fatalf("unexpected entries %+v", entries)
	}

	// Deleting the item leaves the copy in the watchlist.
	do(t, env, "DELETE", "/api/my-items/"+id, nil)
	entries = nil
	getJSON(t, env, "/api/watchlist", &entries)
	if len(entries) != 1 {
		t.Fatalf("expected watchlist copy to survive, got %d", len(entries))
	}

	if status := do(t, env, "DELETE", "/api/watchlist/"+id, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	entries = nil
	getJSON(t, env, "/api/watchlist", &entries)
	if len(entries) != 0 {
		t.Errorf("expected empty watchlist, got %d", len(entries))
	}
}

func TestWatchOnlyNewItems(t *testing.T) {
	env := setupTestServer(t)
	id := mustUpload(t, env, "Broken radio", "damaged")

	if status := do(t, env, "PUT", "/api/watchlist/"+env.uid+"/"+id, nil); status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", status)
	}
	if status := do(t, env, "PUT", "/api/watchlist/"+env.uid+"/nope", nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)

	if status := do(t, env, "POST", "/api/auth/logout", nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if status := getJSON(t, env, "/api/my-items", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", status)
	}
}

func TestTraceIDHeader(t *testing.T) {
	env := setupTestServer(t)

	resp, _ := http.Get(env.server.URL + "/api/items")
	resp.Body.Close()
	if resp.Header.Get(TraceIDHeader) == "" {
		t.Error("expected a generated trace id")
	}

	req, _ := http.NewRequest("GET", env.server.URL+"/api/items", nil)
	req.Header.Set(TraceIDHeader, "abc")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if got := resp.Header.Get(TraceIDHeader); got != "abc" {
		t.Errorf("expected trace id to be reused, got %q", got)
	}
}
