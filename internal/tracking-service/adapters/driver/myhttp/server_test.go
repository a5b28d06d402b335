package myhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/bm"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/memory"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/handle"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/middleware"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/services"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type codeInbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *codeInbox) SendCode(ctx context.Context, ev messagebrokerdto.VerificationIssued) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[ev.DeliveryID] = ev.Code
	return nil
}

func (c *codeInbox) code(deliveryID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[deliveryID]
}

type testServer struct {
	srv     *Server
	inbox   *codeInbox
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, checks map[string]handle.HealthCheck) *testServer {
	t.Helper()

	tracking := config.DefaultTracking()
	tracking.CodeHashCost = bcrypt.MinCost
	cfg := &config.Config{
		Srv:      &config.Serviceconfig{TrackingServicePort: "0"},
		Auth:     &config.Authconfig{JwtSecret: testSecret},
		Tracking: tracking,
	}

	log := mylogger.NewNop()
	m := metrics.New()
	inbox := &codeInbox{codes: make(map[string]string)}

	svc, err := services.New(services.Deps{
		Deliveries:    memory.NewDeliveryRepo(),
		Locations:     memory.NewLocationRepo(),
		Verifications: memory.NewVerificationRepo(),
		Events:        bm.NewNopPublisher(log),
		Codes:         inbox,
		Metrics:       m,
		Log:           log,
		Cfg:           tracking,
	})
	if err != nil {
		t.Fatalf("services: %v", err)
	}

	return &testServer{
		srv:     NewServer(context.Background(), log, cfg, svc, m, checks),
		inbox:   inbox,
		metrics: m,
	}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, model.Actor{ID: userID, Role: model.Role(role)}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, code int, reason string) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, code, rec.Body.String())
	}
	if reason == "" {
		return
	}
	body := decode[map[string]any](t, rec)
	if body["reason"] != reason {
		t.Fatalf("reason = %v, want %s", body["reason"], reason)
	}
}

func createBody(orderID string) map[string]any {
	return map[string]any{
		"orderId":    orderID,
		"customerId": "cust-1",
		"priority":   3,
		"pickup":     map[string]any{"latitude": 43.2380, "longitude": 76.8890, "address": "Abay Ave 10"},
		"dropoff":    map[string]any{"latitude": 43.2567, "longitude": 76.9286, "address": "Dostyk Ave 85"},
	}
}

func locationBody(lat, lng float64, at time.Time) map[string]any {
	return map[string]any{
		"latitude":   lat,
		"longitude":  lng,
		"capturedAt": at.UTC().Format(time.RFC3339Nano),
		"speed":      8.5,
	}
}

func TestAuthRejections(t *testing.T) {
	ts := newTestServer(t, nil)

	expect(t, ts.do(t, http.MethodPost, "/deliveries", "", createBody("ord-1")), http.StatusUnauthorized, "unauthorized")
	expect(t, ts.do(t, http.MethodPost, "/deliveries", "not-a-token", createBody("ord-1")), http.StatusUnauthorized, "unauthorized")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "x", "role": "ADMIN"}).
		SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	expect(t, ts.do(t, http.MethodPost, "/deliveries", forged, createBody("ord-1")), http.StatusUnauthorized, "unauthorized")

	expect(t, ts.do(t, http.MethodPost, "/deliveries", token(t, "cust-1", "CUSTOMER"), createBody("ord-1")), http.StatusForbidden, "forbidden")
	unknownRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "x", "role": "ROOT"}).
		SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	expect(t, ts.do(t, http.MethodPost, "/deliveries", unknownRole, createBody("ord-1")), http.StatusUnauthorized, "unauthorized")

	expired, err := middleware.IssueToken(testSecret, model.Actor{ID: "disp-1", Role: model.RoleDispatcher}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expect(t, ts.do(t, http.MethodPost, "/deliveries", expired, createBody("ord-1")), http.StatusUnauthorized, "unauthorized")
}

func TestDeliveryOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	dispatcher := token(t, "disp-1", "DISPATCHER")
	driver := token(t, "drv-1", "DRIVER")
	rival := token(t, "drv-2", "DRIVER")
	customer := token(t, "cust-1", "CUSTOMER")
	stranger := token(t, "cust-2", "CUSTOMER")

	rec := ts.do(t, http.MethodPost, "/deliveries", dispatcher, createBody("ord-1"))
	expect(t, rec, http.StatusCreated, "")
	created := decode[dto.DeliveryResponse](t, rec)
	if created.Status != "pending" || created.PollIntervalMs != 30_000 {
		t.Fatalf("created = %+v", created)
	}
	id := created.ID
	base := "/deliveries/" + id

	expect(t, ts.do(t, http.MethodPost, "/deliveries", dispatcher, createBody("ord-1")), http.StatusOK, "")

	rec = ts.do(t, http.MethodGet, "/deliveries/available?latitude=43.24&longitude=76.89", driver, nil)
	expect(t, rec, http.StatusOK, "")
	available := decode[[]dto.AvailableDeliveryResponse](t, rec)
	if len(available) != 1 || available[0].ID != id {
		t.Fatalf("available = %+v", available)
	}

	expect(t, ts.do(t, http.MethodPost, base+"/accept", driver, nil), http.StatusOK, "")
	expect(t, ts.do(t, http.MethodPost, base+"/accept", driver, nil), http.StatusOK, "")
	expect(t, ts.do(t, http.MethodPost, base+"/accept", rival, nil), http.StatusConflict, "already_assigned")

	rec = ts.do(t, http.MethodGet, "/drivers/me/delivery", driver, nil)
	expect(t, rec, http.StatusOK, "")
	if got := decode[dto.DeliveryResponse](t, rec); got.ID != id {
		t.Fatalf("driver delivery = %s", got.ID)
	}

	expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "picked_up"}), http.StatusConflict, "invalid_transition")
	expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "teleported"}), http.StatusBadRequest, "validation_failed")
	expect(t, ts.do(t, http.MethodPost, base+"/status", rival, map[string]string{"status": "en_route_to_pickup"}), http.StatusForbidden, "forbidden")
	expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "en_route_to_pickup"}), http.StatusOK, "")

	expect(t, ts.do(t, http.MethodGet, base+"/location/current", customer, nil), http.StatusNotFound, "no_location")
	expect(t, ts.do(t, http.MethodGet, base+"/eta", customer, nil), http.StatusNotFound, "no_location")

	now := time.Now()
	expect(t, ts.do(t, http.MethodPost, base+"/location", driver, locationBody(43.2300, 76.8800, now)), http.StatusCreated, "")
	expect(t, ts.do(t, http.MethodPost, base+"/location", driver, locationBody(43.2310, 76.8810, now.Add(time.Second))), http.StatusAccepted, "")
	expect(t, ts.do(t, http.MethodPost, base+"/location", driver, locationBody(95, 76.8810, now)), http.StatusBadRequest, "validation_failed")
	expect(t, ts.do(t, http.MethodPost, base+"/location", driver, locationBody(43.23, 76.88, now.Add(-time.Hour))), http.StatusConflict, "stale_sample")
	expect(t, ts.do(t, http.MethodPost, base+"/location", rival, locationBody(43.23, 76.88, now)), http.StatusForbidden, "forbidden")

	rec = ts.do(t, http.MethodGet, base+"/location/current", customer, nil)
	expect(t, rec, http.StatusOK, "")
	if cur := decode[dto.LocationResponse](t, rec); cur.Latitude != 43.2300 {
		t.Fatalf("current latitude = %v", cur.Latitude)
	}
	expect(t, ts.do(t, http.MethodGet, base+"/location/current", stranger, nil), http.StatusForbidden, "forbidden")

	rec = ts.do(t, http.MethodGet, base+"/location/history?limit=10", dispatcher, nil)
	expect(t, rec, http.StatusOK, "")
	if h := decode[dto.HistoryResponse](t, rec); len(h.Samples) != 1 {
		t.Fatalf("history = %d samples", len(h.Samples))
	}
	expect(t, ts.do(t, http.MethodGet, base+"/location/history?limit=ten", dispatcher, nil), http.StatusBadRequest, "validation_failed")

	rec = ts.do(t, http.MethodGet, base+"/eta", customer, nil)
	expect(t, rec, http.StatusOK, "")
	if eta := decode[dto.ETAResponse](t, rec); eta.EtaSeconds <= 0 || eta.EtaFormatted == "" || eta.DistanceKm <= 0 {
		t.Fatalf("eta = %+v", eta)
	}
	expect(t, ts.do(t, http.MethodGet, base+"/eta?destinationLat=43.25", customer, nil), http.StatusBadRequest, "validation_failed")
	expect(t, ts.do(t, http.MethodGet, base+"/eta?destinationLat=43.25&destinationLng=76.90", customer, nil), http.StatusOK, "")

	rec = ts.do(t, http.MethodGet, "/deliveries/nearby?latitude=43.23&longitude=76.88&radius=5", dispatcher, nil)
	expect(t, rec, http.StatusOK, "")
	if nearby := decode[[]dto.NearbyDeliveryResponse](t, rec); len(nearby) != 1 || nearby[0].DeliveryID != id {
		t.Fatalf("nearby = %+v", nearby)
	}
	expect(t, ts.do(t, http.MethodGet, "/deliveries/nearby?latitude=43.23&longitude=76.88&radius=5", driver, nil), http.StatusForbidden, "forbidden")
	expect(t, ts.do(t, http.MethodGet, "/deliveries/nearby?latitude=43.23&longitude=76.88&radius=NaN", dispatcher, nil), http.StatusBadRequest, "validation_failed")
	expect(t, ts.do(t, http.MethodGet, "/deliveries/available?latitude=43.24&longitude=76.89&maxDistance=NaN", driver, nil), http.StatusBadRequest, "validation_failed")

	expect(t, ts.do(t, http.MethodPost, base+"/verification/send", driver, nil), http.StatusConflict, "handoff_not_started")

	for _, status := range []string{"arrived_at_pickup", "picked_up", "en_route_to_dropoff", "arrived_at_dropoff"} {
		expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": status}), http.StatusOK, "")
	}

	code := ts.inbox.code(id)
	if len(code) != 6 {
		t.Fatalf("issued code = %q", code)
	}
	wrong := []byte(code)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10

	rec = ts.do(t, http.MethodPost, base+"/verification/verify", customer, map[string]string{"code": string(wrong)})
	expect(t, rec, http.StatusUnprocessableEntity, "")
	if body := decode[map[string]any](t, rec); body["error"] != "invalid verification code" || body["reason"] != "invalid_code" {
		t.Fatalf("invalid code body = %v", body)
	}
	expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "delivered"}), http.StatusConflict, "verification_required")

	rec = ts.do(t, http.MethodPost, base+"/verification/send", driver, nil)
	expect(t, rec, http.StatusAccepted, "")
	if sent := decode[map[string]any](t, rec); sent["code"] != nil || sent["resendsRemaining"] != float64(2) {
		t.Fatalf("send response = %v", sent)
	}

	code = ts.inbox.code(id)
	expect(t, ts.do(t, http.MethodPost, base+"/verification/verify", customer, map[string]string{"code": code}), http.StatusOK, "")
	expect(t, ts.do(t, http.MethodPost, base+"/verification/verify", customer, map[string]string{"code": code}), http.StatusUnprocessableEntity, "invalid_code")

	rec = ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "delivered"})
	expect(t, rec, http.StatusOK, "")
	if got := decode[dto.DeliveryResponse](t, rec); got.Status != "delivered" {
		t.Fatalf("status = %s", got.Status)
	}

	expect(t, ts.do(t, http.MethodPost, base+"/location", driver, locationBody(43.25, 76.92, time.Now())), http.StatusGone, "delivery_not_active")
	expect(t, ts.do(t, http.MethodPost, base+"/cancel", dispatcher, map[string]string{"reason": "late"}), http.StatusConflict, "invalid_transition")
}

func TestCancelAndIssues(t *testing.T) {
	ts := newTestServer(t, nil)
	dispatcher := token(t, "disp-1", "DISPATCHER")
	driver := token(t, "drv-1", "DRIVER")

	rec := ts.do(t, http.MethodPost, "/deliveries", dispatcher, createBody("ord-7"))
	expect(t, rec, http.StatusCreated, "")
	base := "/deliveries/" + decode[dto.DeliveryResponse](t, rec).ID

	expect(t, ts.do(t, http.MethodPost, base+"/assign", dispatcher, map[string]string{"driverId": ""}), http.StatusBadRequest, "validation_failed")
	expect(t, ts.do(t, http.MethodPost, base+"/assign", driver, map[string]string{"driverId": "drv-1"}), http.StatusForbidden, "forbidden")
	expect(t, ts.do(t, http.MethodPost, base+"/assign", dispatcher, map[string]string{"driverId": "drv-1"}), http.StatusOK, "")

	expect(t, ts.do(t, http.MethodPost, base+"/issues", driver, map[string]string{"issueType": "flat_tyre"}), http.StatusBadRequest, "validation_failed")
	rec = ts.do(t, http.MethodPost, base+"/issues", driver, map[string]string{"issueType": "pharmacy_delay", "description": "queue at counter"})
	expect(t, rec, http.StatusCreated, "")
	if got := decode[dto.DeliveryResponse](t, rec); len(got.Issues) != 1 || got.Issues[0].ReportedBy != "drv-1" {
		t.Fatalf("issues = %+v", got.Issues)
	}

	rec = ts.do(t, http.MethodPost, base+"/cancel", dispatcher, nil)
	expect(t, rec, http.StatusOK, "")
	if got := decode[dto.DeliveryResponse](t, rec); got.Status != "cancelled" || got.DriverID != "" {
		t.Fatalf("cancelled = %+v", got)
	}

	expect(t, ts.do(t, http.MethodPost, base+"/status", driver, map[string]string{"status": "en_route_to_pickup"}), http.StatusForbidden, "forbidden")
	expect(t, ts.do(t, http.MethodGet, "/deliveries/missing", dispatcher, nil), http.StatusNotFound, "delivery_not_found")
	expect(t, ts.do(t, http.MethodGet, "/drivers/me/delivery", driver, nil), http.StatusNotFound, "delivery_not_found")
}

func TestHealthAndMetrics(t *testing.T) {
	down := errors.New("connection refused")
	ts := newTestServer(t, map[string]handle.HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"rabbitmq": func(ctx context.Context) error { return down },
	})

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	expect(t, rec, http.StatusServiceUnavailable, "")
	body := decode[map[string]any](t, rec)
	deps, _ := body["dependencies"].(map[string]any)
	if body["status"] != "degraded" || deps["postgres"] != "up" || deps["rabbitmq"] != "down" {
		t.Fatalf("health = %v", body)
	}

	ts.do(t, http.MethodGet, "/deliveries/x", "", nil)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	expect(t, rec, http.StatusOK, "")
	if !strings.Contains(rec.Body.String(), `http_requests_total{handler="get_delivery",method="GET",status="401"} 1`) {
		t.Fatalf("request not counted:\n%s", rec.Body.String())
	}
}
