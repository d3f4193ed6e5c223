package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"launchpad/gateway/middleware"
	"launchpad/services/reportd/models"
	"launchpad/services/reportd/nodeclient"
	"launchpad/services/reportd/report"
)

const testSecret = "reportd-admin-secret"

type stubNode struct {
	stages []nodeclient.Stage
}

func (s *stubNode) Stages(ctx context.Context) ([]nodeclient.Stage, error) {
	return s.stages, nil
}

func (s *stubNode) ReferralState(ctx context.Context, account string) (*nodeclient.ReferralState, error) {
	return &nodeclient.ReferralState{Address: account}, nil
}

func setupServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	reporter, err := report.NewReporter(report.Config{
		DB:        db,
		Node:      &stubNode{},
		OutputDir: filepath.Join(t.TempDir(), "reports"),
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}

	srv, err := New(Config{
		DB:       db,
		Reporter: reporter,
		Window:   24 * time.Hour,
		Auth: middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: testSecret,
			Issuer:     "launchpad",
		},
		RateLimit: middleware.RateLimit{RatePerSecond: 100, Burst: 100},
		Metrics:   prometheus.NewRegistry(),
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, db
}

func adminToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "launchpad",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestServerHealthzOpen(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz open, got %d", res.Code)
	}
}

func TestServerAdminRequiresScopedToken(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	res := httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "report.read"))
	res = httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", res.Code)
	}
}

func TestServerTriggerRunAndHistory(t *testing.T) {
	srv, db := setupServer(t)
	token := adminToken(t, "report.admin")

	body := strings.NewReader(`{"dryRun":true}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/run", body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("trigger run failed: %d %s", res.Code, res.Body.String())
	}
	var triggered runView
	if err := json.Unmarshal(res.Body.Bytes(), &triggered); err != nil {
		t.Fatalf("decode trigger response: %v", err)
	}
	if triggered.Status != models.RunStatusSucceeded || !triggered.DryRun {
		t.Fatalf("unexpected run view: %+v", triggered)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("list runs failed: %d", res.Code)
	}
	var runs []runView
	if err := json.Unmarshal(res.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != triggered.ID {
		t.Fatalf("unexpected run list: %+v", runs)
	}

	if err := db.Create(&models.Checkpoint{Name: models.CheckpointEvents, Sequence: 42, UpdatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status failed: %d", res.Code)
	}
	var status statusView
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Checkpoint != 42 {
		t.Fatalf("expected checkpoint 42, got %d", status.Checkpoint)
	}
	if status.LastRun == nil || status.LastRun.ID != triggered.ID {
		t.Fatalf("expected last run in status, got %+v", status.LastRun)
	}
}

func TestServerListsRunAnomalies(t *testing.T) {
	srv, db := setupServer(t)
	token := adminToken(t, "report.admin")

	runID := uuid.New()
	run := models.ReportRun{
		ID:          runID,
		WindowStart: time.Now().Add(-24 * time.Hour).UTC(),
		WindowEnd:   time.Now().UTC(),
		Status:      models.RunStatusSucceeded,
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	base := time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC)
	for i, kind := range []string{report.AnomalyLedgerDrift, report.AnomalyPendingMismatch} {
		row := models.Anomaly{
			ID:        uuid.New(),
			RunID:     runID,
			Kind:      kind,
			Subject:   fmt.Sprintf("subject-%d", i),
			Details:   "details",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed anomaly: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/runs/"+runID.String()+"/anomalies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("list anomalies failed: %d", res.Code)
	}
	var views []anomalyView
	if err := json.Unmarshal(res.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode anomalies: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected two anomalies, got %d", len(views))
	}
	if views[0].Kind != report.AnomalyLedgerDrift {
		t.Fatalf("unexpected ordering: %+v", views)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/runs/not-a-uuid/anomalies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad run id, got %d", res.Code)
	}
}
