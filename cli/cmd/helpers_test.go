// ABOUTME: Shared fixtures for command tests
// ABOUTME: A fake gateway that serves canned health, scheduler, sync, and login responses

package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/markalston/portal-gateway/models"
)

// fakeGateway answers the operator and login endpoints the commands use
type fakeGateway struct {
	health    models.HealthResponse
	scheduler models.SchedulerStatus
	sync      models.OwnerSyncResult
	units     []models.ConsumptionUnit
	source    string
	// validCode is the SMS code verify-code accepts
	validCode string
	codes     []string
}

func (f *fakeGateway) start(t *testing.T) {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	apiURL = server.URL
	t.Cleanup(func() { apiURL = "" })
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v1/health":
		json.NewEncoder(w).Encode(f.health)
	case "/api/v1/scheduler/status", "/api/v1/scheduler/start", "/api/v1/scheduler/stop":
		st := f.scheduler
		switch r.URL.Path {
		case "/api/v1/scheduler/start":
			st.Running = true
		case "/api/v1/scheduler/stop":
			st.Running = false
		}
		json.NewEncoder(w).Encode(st)
	case "/api/v1/sync":
		var req models.SyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Owner == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(models.ErrorResponse{Error: "owner identifier is required", Code: 400})
			return
		}
		json.NewEncoder(w).Encode(f.sync)
	case "/api/v1/resources":
		w.Header().Set("X-Data-Source", f.source)
		json.NewEncoder(w).Encode(models.ResourcesResponse{Owner: r.URL.Query().Get("owner"), Units: f.units})
	case "/api/v1/login/start":
		json.NewEncoder(w).Encode(models.LoginStartResponse{
			TransactionID: "tx-1", SecureID: "sec-1", CSRFToken: "csrf-1",
			PhoneOptions: []string{"(11) *****-0001", "(11) *****-0002"},
		})
	case "/api/v1/login/select-phone":
		w.Header().Set("X-CSRF-Token", "csrf-2")
		json.NewEncoder(w).Encode(models.SelectPhoneResponse{Ack: true, CSRFToken: "csrf-2"})
	case "/api/v1/login/verify-code":
		var req models.VerifyCodeRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.codes = append(f.codes, req.Code)
		w.Header().Set("X-CSRF-Token", "csrf-next")
		if req.Code != f.validCode {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(models.ErrorResponse{Error: "invalid verification code", Code: 400})
			return
		}
		json.NewEncoder(w).Encode(models.VerifyCodeResponse{
			Success:      true,
			TokenSummary: &models.TokenSummary{HasAccessToken: true, HasRefreshToken: true, DeviceKeyCount: 2},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
