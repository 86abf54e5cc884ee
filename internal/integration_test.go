package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"device-registry-backend/config"
	"device-registry-backend/internal/api"
	"device-registry-backend/internal/checker"
	"device-registry-backend/internal/db"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/notification"
	"device-registry-backend/internal/otp"
	"device-registry-backend/internal/registry"
	"device-registry-backend/internal/store"
	"device-registry-backend/internal/transfer"
)

// inbox stands in for the mail server and keeps the last code per owner.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) Send(_ context.Context, d notification.Delivery) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[d.Contact.OwnerID] = d.Code
	return nil
}

func (i *inbox) take(owner string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	code := i.codes[owner]
	delete(i.codes, owner)
	return code
}

type system struct {
	t      *testing.T
	router *gin.Engine
	inbox  *inbox
}

func newSystem(t *testing.T, name string) *system {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}}
	cfg.ApplyDefaults()
	cfg.OTP.HashCost = bcrypt.MinCost
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	gormDB, err := db.Init(&cfg.Database, logging.SetupLogger("error", "db"))
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewGormStore(gormDB)
	box := &inbox{codes: map[string]string{}}
	senders := notification.NewRouter().
		Register(model.ChannelEmail, box).
		Register(model.ChannelLog, notification.NewLogSender(logging.SetupLogger("error", "delivery")))
	pool := notification.NewWorkerPool(2, 8, senders, time.Second, logging.SetupLogger("error", "delivery"))
	pool.Start(ctx)

	reg := registry.New(s, logging.SetupLogger("error", "registry"))
	challenges := otp.New(s, pool, otp.Config{TTL: cfg.OTP.TTL, MaxAttempts: cfg.OTP.MaxAttempts, HashCost: cfg.OTP.HashCost}, logging.SetupLogger("error", "otp"))
	wf := transfer.New(s, reg, challenges, s, transfer.Config{AttemptTTL: cfg.Transfer.AttemptTTL, MaxResends: cfg.Transfer.MaxResends}, logging.SetupLogger("error", "transfer"))

	h := api.NewHandler(api.Services{
		Registry: reg,
		Workflow: wf,
		Checker:  checker.New(reg, logging.SetupLogger("error", "checker")),
		Contacts: s,
	}, logging.SetupLogger("error", "http"))

	return &system{t: t, router: api.NewRouter(cfg.Server, h, logging.SetupLogger("error", "http")), inbox: box}
}

func (s *system) call(method, path, actor string, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (s *system) code(owner string) string {
	var code string
	require.Eventually(s.t, func() bool {
		code = s.inbox.take(owner)
		return code != ""
	}, 2*time.Second, 10*time.Millisecond)
	return code
}

type publicStatus struct {
	Registered bool   `json:"registered"`
	Status     string `json:"status"`
}

type apiError struct {
	Code string `json:"code"`
}

// TestGiftTransfer walks a device from registration to a new owner over HTTP,
// with the code travelling through the delivery worker pool.
func TestGiftTransfer(t *testing.T) {
	sys := newSystem(t, "integration_gift")

	require.Equal(t, http.StatusOK, sys.call("PUT", "/api/contact", "alice", gin.H{"channel": "email", "email": "alice@example.com"}, nil))
	require.Equal(t, http.StatusOK, sys.call("PUT", "/api/contact", "bob", gin.H{"channel": "email", "email": "bob@example.com"}, nil))

	var dev model.Device
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/devices", "alice", gin.H{"label": "phone", "imei": "35-209900-176148-1"}, &dev))

	var ps publicStatus
	sys.call("GET", "/api/status?identifier=352099001761481", "", nil, &ps)
	assert.Equal(t, publicStatus{Registered: true, Status: "active"}, ps)

	var view transfer.View
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/transfers", "alice", gin.H{"identifier": "352099001761481", "to": "BOB@example.com"}, &view))
	assert.Equal(t, "a***@example.com", view.Challenge.Destination)
	id := view.Attempt.ID

	var attempt model.TransferAttempt
	require.Equal(t, http.StatusOK, sys.call("POST", "/api/transfers/"+id+"/verify", "alice", gin.H{"code": sys.code("alice")}, &attempt))
	assert.Equal(t, model.TransferIdentityVerified, attempt.State)

	require.Equal(t, http.StatusOK, sys.call("POST", "/api/transfers/"+id+"/reason", "alice", gin.H{"reasonCode": "gift"}, &attempt))
	assert.Equal(t, model.TransferCompleted, attempt.State)
	assert.Equal(t, model.ReasonGift, attempt.ReasonCode)

	assert.Equal(t, http.StatusForbidden, sys.call("GET", "/api/devices/"+dev.ID, "alice", nil, nil))

	var owned model.Device
	require.Equal(t, http.StatusOK, sys.call("GET", "/api/devices/"+dev.ID, "bob", nil, &owned))
	assert.Equal(t, "bob", owned.OwnerID)
	assert.Equal(t, model.DeviceActive, owned.Status)

	var history []model.StatusEvent
	require.Equal(t, http.StatusOK, sys.call("GET", "/api/devices/"+dev.ID+"/history", "bob", nil, &history))
	require.NotEmpty(t, history)
	assert.Equal(t, model.DeviceActive, history[len(history)-1].Status)
	assert.Equal(t, "bob", history[len(history)-1].ActorID)

	sys.call("GET", "/api/status?identifier=352099001761481", "", nil, &ps)
	assert.Equal(t, publicStatus{Registered: true, Status: "active"}, ps)

	// Bob can hand it on again; alice no longer can.
	var e apiError
	assert.Equal(t, http.StatusForbidden, sys.call("POST", "/api/transfers", "alice", gin.H{"deviceId": dev.ID, "to": "bob"}, &e))
	assert.Equal(t, "not_owner", e.Code)
	assert.Equal(t, http.StatusCreated, sys.call("POST", "/api/transfers", "bob", gin.H{"deviceId": dev.ID, "to": "alice@example.com"}, nil))
}

// TestStolenReportDuringTransfer reports a device stolen between verification and commit.
// The report stands and the transfer fails.
func TestStolenReportDuringTransfer(t *testing.T) {
	sys := newSystem(t, "integration_stolen")

	require.Equal(t, http.StatusOK, sys.call("PUT", "/api/contact", "alice", gin.H{"channel": "email", "email": "alice@example.com"}, nil))

	var dev model.Device
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/devices", "alice", gin.H{"serial": "C02XK1ZZJG5H"}, &dev))

	var view transfer.View
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/transfers", "alice", gin.H{"deviceId": dev.ID, "to": "carol"}, &view))
	id := view.Attempt.ID
	require.Equal(t, http.StatusOK, sys.call("POST", "/api/transfers/"+id+"/verify", "alice", gin.H{"code": sys.code("alice")}, nil))

	require.Equal(t, http.StatusOK, sys.call("POST", "/api/devices/"+dev.ID+"/report", "alice", gin.H{"status": "reported_stolen"}, nil))

	var ps publicStatus
	sys.call("GET", "/api/status?identifier=c02xk1zzjg5h", "", nil, &ps)
	assert.Equal(t, publicStatus{Registered: true, Status: "reported_stolen"}, ps)

	var e apiError
	assert.Equal(t, http.StatusConflict, sys.call("POST", "/api/transfers/"+id+"/reason", "alice", gin.H{"reasonCode": "sold"}, &e))
	assert.Equal(t, "ownership_mismatch", e.Code)

	var again apiError
	assert.Equal(t, http.StatusConflict, sys.call("POST", "/api/transfers/"+id+"/complete", "alice", nil, &again))
	assert.Equal(t, "ownership_mismatch", again.Code)

	var after model.Device
	require.Equal(t, http.StatusOK, sys.call("GET", "/api/devices/"+dev.ID, "alice", nil, &after))
	assert.Equal(t, "alice", after.OwnerID)
	assert.Equal(t, model.DeviceReportedStolen, after.Status)
}

// TestExhaustedCode burns every attempt; the sixth submission still reports exhaustion.
func TestExhaustedCode(t *testing.T) {
	sys := newSystem(t, "integration_exhausted")

	require.Equal(t, http.StatusOK, sys.call("PUT", "/api/contact", "alice", gin.H{"channel": "email", "email": "alice@example.com"}, nil))
	var dev model.Device
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/devices", "alice", gin.H{"imei": "490154203237518"}, &dev))
	var view transfer.View
	require.Equal(t, http.StatusCreated, sys.call("POST", "/api/transfers", "alice", gin.H{"deviceId": dev.ID, "to": "bob"}, &view))
	issued := sys.code("alice")
	wrong := "AAAAAAAA"
	if issued == wrong {
		wrong = "BBBBBBBB"
	}

	codes := []string{}
	for i := 0; i < 6; i++ {
		var e apiError
		sys.call("POST", "/api/transfers/"+view.Attempt.ID+"/verify", "alice", gin.H{"code": wrong}, &e)
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{"otp_rejected", "otp_rejected", "otp_rejected", "otp_rejected", "otp_exhausted", "otp_exhausted"}, codes)

	var e apiError
	sys.call("POST", "/api/transfers/"+view.Attempt.ID+"/verify", "alice", gin.H{"code": issued}, &e)
	assert.Equal(t, "otp_exhausted", e.Code)

	var after model.Device
	sys.call("GET", "/api/devices/"+dev.ID, "alice", nil, &after)
	assert.Equal(t, model.DeviceActive, after.Status)
}
