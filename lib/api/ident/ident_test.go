package ident

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/prvd/lib/api"
	"github.com/tarancss/prvd/lib/types"
)

func TestFetchApplicationDetails(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/applications/{id}", func(rw http.ResponseWriter, r *http.Request) {
		switch mux.Vars(r)["id"] {
		case "app-1":
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"id":"app-1","name":"bus","config":{"type":"message_bus"}}`))
		case "garbled":
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"id":`))
		default:
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusNotFound)
			_, _ = rw.Write([]byte(`{"errors":[]}`))
		}
	}).Methods(http.MethodGet)
	s := httptest.NewServer(r)
	defer s.Close()

	i := New(api.New(api.Config{Scheme: "http", Host: strings.TrimPrefix(s.URL, "http://"), Token: "t"}))
	ctx := context.Background()

	status, app, err := i.FetchApplicationDetails(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, app)
	assert.Equal(t, types.ID("app-1"), app.ID)
	assert.Equal(t, types.ApplicationTypeMessageBus, app.Type())

	status, app, err = i.FetchApplicationDetails(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Nil(t, app)

	status, app, err = i.FetchApplicationDetails(ctx, "garbled")
	assert.ErrorIs(t, err, api.ErrBadBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, app)
}
