package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func publishedRecord() *db.ProductVersion {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &db.ProductVersion{
		EntityCode:        "000206",
		SKU:               "SKU-206",
		Version:           3,
		Status:            db.StatusPublished,
		CompletenessScore: 85,
		PublishedAt:       &at,
		Payload:           datatypes.JSON(`{"name":"Wino","price":49.9}`),
	}
}

func TestHTTPNotifierPushesMessage(t *testing.T) {
	var got Message
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/catalog/published", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		user, pass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewHTTPNotifier(zerolog.Nop(), HTTPConfig{BaseURL: srv.URL + "/api/", Username: "ck", Secret: "cs"})
	require.NoError(t, err)
	require.NoError(t, n.Published(context.Background(), publishedRecord()))

	require.Equal(t, "ck", user)
	require.Equal(t, "cs", pass)
	require.Equal(t, "000206", got.EntityCode)
	require.Equal(t, 3, got.Version)
	require.Equal(t, db.StatusPublished, got.Status)
	require.Equal(t, 49.9, got.Payload["price"])
	require.NotNil(t, got.PublishedAt)
}

func TestHTTPNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n, err := NewHTTPNotifier(zerolog.Nop(), HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	err = n.Published(context.Background(), publishedRecord())
	require.Error(t, err)
	require.Contains(t, err.Error(), "http 503")
	require.Contains(t, err.Error(), "index offline")
}

func TestHTTPNotifierRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPNotifier(zerolog.Nop(), HTTPConfig{})
	require.Error(t, err)
}

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Published(context.Context, *db.ProductVersion) error {
	s.calls++
	return s.err
}

func TestMultiJoinsErrors(t *testing.T) {
	a := &stubNotifier{name: "a", err: errors.New("down")}
	b := &stubNotifier{name: "b"}
	c := &stubNotifier{name: "c", err: errors.New("timeout")}

	err := Multi{a, b, c}.Published(context.Background(), publishedRecord())
	require.Error(t, err)
	require.Contains(t, err.Error(), "a: down")
	require.Contains(t, err.Error(), "c: timeout")
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 1, c.calls)

	require.NoError(t, Multi{b}.Published(context.Background(), publishedRecord()))
}

func TestBuild(t *testing.T) {
	n, err := Build(zerolog.Nop(), nil)
	require.NoError(t, err)
	require.Equal(t, "nop", n.Name())

	n, err = Build(zerolog.Nop(), map[string]json.RawMessage{
		"http": json.RawMessage(`{"base_url":"http://localhost:1"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "multi", n.Name())
	require.Len(t, n.(Multi), 1)

	_, err = Build(zerolog.Nop(), map[string]json.RawMessage{"smtp": json.RawMessage(`{}`)})
	require.ErrorContains(t, err, `no factory for "smtp"`)

	_, err = Build(zerolog.Nop(), map[string]json.RawMessage{"http": json.RawMessage(`{}`)})
	require.ErrorContains(t, err, "base_url is required")
}
