package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/rideflow/dispatch/internal/errors"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q is not a valid envelope: %v", rec.Body.String(), err)
	}
	return resp
}

func TestSuccessWrapsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusOK, map[string]string{"id": "ride-1"})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Error != nil {
		t.Errorf("error = %+v, want nil", resp.Error)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || data["id"] != "ride-1" {
		t.Errorf("data = %v, want the payload back", resp.Data)
	}
}

func TestErrorWrapsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, apperrors.RideNoLongerAvailable())

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success {
		t.Error("success = true, want false")
	}
	if resp.Error == nil || resp.Error.Code != "ride_no_longer_available" {
		t.Errorf("error = %+v, want code ride_no_longer_available", resp.Error)
	}
	if resp.Data != nil {
		t.Errorf("data = %v, want omitted", resp.Data)
	}
}

func TestCreatedWrapsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"id": "alert-1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if resp := decodeEnvelope(t, rec); !resp.Success {
		t.Error("success = false, want true")
	}
}

func TestBadRequestCarriesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	BadRequest(rec, "pickup is required")

	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Message != "pickup is required" {
		t.Errorf("error = %+v, want the validation message", resp.Error)
	}
}
