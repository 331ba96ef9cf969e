package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/assembler"
	"github.com/MarcoPoloResearchLab/journeys/internal/auth"
	"github.com/MarcoPoloResearchLab/journeys/internal/database"
	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "journey-assembler"
	testAudience      = "journey-producers"
)

type testServer struct {
	handler    http.Handler
	service    *assembler.Service
	dispatcher *RealtimeDispatcher
	issuer     *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	store, err := assembler.NewStore(db, nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	resolver, err := identity.NewEngine(identity.Config{IDProvider: identity.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build identity engine: %v", err)
	}
	journeyEngine, err := journeys.NewEngine(journeys.Config{})
	if err != nil {
		t.Fatalf("failed to build journey engine: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	service, err := assembler.NewService(assembler.ServiceConfig{
		Resolver:  resolver,
		Assembler: journeyEngine,
		Store:     store,
		Publisher: dispatcher,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	validator, err := auth.NewProducerValidator(auth.ProducerValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: validator,
		Service:        service,
		Realtime:       dispatcher,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, service: service, dispatcher: dispatcher, issuer: issuer}
}

func (s *testServer) token(t *testing.T, subject string, channels ...string) string {
	t.Helper()
	parsed := make([]touchpoint.Channel, 0, len(channels))
	for _, channel := range channels {
		parsed = append(parsed, touchpoint.Channel(channel))
	}
	token, _, err := s.issuer.IssueProducerToken(subject, parsed)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}
