package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/server"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/internal/testsupport"
	"github.com/voxoff/pipeline/internal/tracker"
	ws "github.com/voxoff/pipeline/internal/websocket"
)

var queues = config.QueueConfig{
	Acquisition:  "download-jobs",
	Separation:   "split-jobs",
	Alignment:    "lyrics-jobs",
	StatusEvents: "event-notifications",
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	bus     *testsupport.Bus
	redis   *redis.Client
	mr      *miniredis.Miniredis
	store   *service.RedisJobStore
	tracker *tracker.Tracker
}

// setupApp creates the same Fiber app as `voxoff serve`, backed by miniredis
// and an in-memory bus.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	// Very high rate limit so tests don't get blocked
	return setupAppWithLimit(t, 10000)
}

func setupAppWithLimit(t *testing.T, submissionsPerMin int) *testApp {
	t.Helper()

	mr, rdb := testsupport.Redis(t)
	b := testsupport.NewBus()
	logger := zap.NewNop()
	store := service.NewRedisJobStore(rdb)

	app := server.New(server.Options{
		Submissions:       service.NewSubmissionService(b, store, queues, logger),
		Redis:             rdb,
		Hub:               ws.NewHub(logger),
		Logger:            logger,
		SubmissionsPerMin: submissionsPerMin,
	})

	return &testApp{
		app:     app,
		bus:     b,
		redis:   rdb,
		mr:      mr,
		store:   store,
		tracker: tracker.New(store, tracker.NewRedisNotifier(rdb), logger),
	}
}

// drainEvents feeds every pending status event to the tracker.
func (ta *testApp) drainEvents(t *testing.T) {
	t.Helper()
	for _, body := range ta.bus.Drain(queues.StatusEvents) {
		ta.tracker.Handle(context.Background(), body)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body := readBody(t, resp)
		t.Fatalf("expected status %d, got %d\nbody: %s", expected, resp.StatusCode, body)
	}
}

// assertErrorCode checks the error code in the response.
func assertErrorCode(t *testing.T, body map[string]interface{}, expectedCode string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' object in response, got: %v", body)
	}
	if errObj["code"] != expectedCode {
		t.Errorf("expected error code %q, got %q", expectedCode, errObj["code"])
	}
}
