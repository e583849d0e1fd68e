package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custommw "github.com/passhub/server/internal/middleware"
	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/repository"
	"github.com/passhub/server/internal/services"
)

type walletFixture struct {
	router    chi.Router
	passes    *repository.PassRepository
	artifacts *services.ArtifactStore
}

func setupWalletRouter(t *testing.T) *walletFixture {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	artifacts, err := services.NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	devices := repository.NewDeviceRepository(db)
	passes := repository.NewPassRepository(db)
	registrations := repository.NewRegistrationRepository(db)
	registrationService := services.NewRegistrationService(devices, passes, registrations, artifacts)
	handler := NewWalletHandler(registrationService, nil)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(custommw.ApplePassAuth())
		r.Post("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", handler.RegisterDevice)
		r.Delete("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", handler.UnregisterDevice)
		r.Get("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}", handler.GetSerialNumbers)
		r.Get("/passes/{passTypeIdentifier}/{serialNumber}", handler.GetPass)
	})

	return &walletFixture{router: r, passes: passes, artifacts: artifacts}
}

func (f *walletFixture) issuePass(t *testing.T, serial, token string) {
	pass, err := models.NewPass("pass.com.example", serial, "tmpl-1", token)
	require.NoError(t, err)
	created, err := f.passes.Add(context.Background(), pass)
	require.NoError(t, err)
	require.True(t, created)
}

func (f *walletFixture) do(method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		data, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWalletRegisterDevice(t *testing.T) {
	t.Run("create then repeat", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass WRONG", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing or malformed authorization header", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		for _, auth := range []string{"", "Bearer secret", "ApplePass ", "applepass secret"} {
			rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", auth, body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth header %q", auth)
		}
	})

	t.Run("missing push token", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", models.RegisterDeviceRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWalletUnregisterDevice(t *testing.T) {
	f := setupWalletRouter(t)
	f.issuePass(t, "SN-1", "secret")

	body := models.RegisterDeviceRequest{PushToken: "push-a"}
	rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent.
	rec = f.do(http.MethodDelete, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWalletGetSerialNumbers(t *testing.T) {
	t.Run("lists registered serials", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(http.MethodGet, "/v1/devices/dev-1/registrations/pass.com.example", "ApplePass secret", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.SerialNumbersResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"SN-1"}, resp.SerialNumbers)
		assert.NotEmpty(t, resp.LastUpdated)
	})

	t.Run("nothing newer than the given tag is 204", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(http.MethodGet, "/v1/devices/dev-1/registrations/pass.com.example", "ApplePass secret", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp models.SerialNumbersResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		rec = f.do(http.MethodGet, "/v1/devices/dev-1/registrations/pass.com.example?passesUpdatedSince="+resp.LastUpdated, "ApplePass secret", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("malformed tag is 400", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		body := models.RegisterDeviceRequest{PushToken: "push-a"}
		rec := f.do(http.MethodPost, "/v1/devices/dev-1/registrations/pass.com.example/SN-1", "ApplePass secret", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(http.MethodGet, "/v1/devices/dev-1/registrations/pass.com.example?passesUpdatedSince=banana", "ApplePass secret", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unregistered device is 401", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		rec := f.do(http.MethodGet, "/v1/devices/dev-unknown/registrations/pass.com.example", "ApplePass secret", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestWalletGetPass(t *testing.T) {
	t.Run("serves the artifact", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")
		require.NoError(t, f.artifacts.Store("pass.com.example", "SN-1", []byte("pkpass-bytes")))

		rec := f.do(http.MethodGet, "/v1/passes/pass.com.example/SN-1", "ApplePass secret", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/vnd.apple.pkpass", rec.Header().Get("Content-Type"))
		assert.Equal(t, "pkpass-bytes", rec.Body.String())

		// Last-Modified must be a well-formed HTTP date.
		lastModified, err := http.ParseTime(rec.Header().Get("Last-Modified"))
		require.NoError(t, err)
		assert.False(t, lastModified.IsZero())
	})

	t.Run("missing artifact is 404", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")

		rec := f.do(http.MethodGet, "/v1/passes/pass.com.example/SN-1", "ApplePass secret", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong token is 401", func(t *testing.T) {
		f := setupWalletRouter(t)
		f.issuePass(t, "SN-1", "secret")
		require.NoError(t, f.artifacts.Store("pass.com.example", "SN-1", []byte("pkpass-bytes")))

		rec := f.do(http.MethodGet, "/v1/passes/pass.com.example/SN-1", "ApplePass WRONG", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
