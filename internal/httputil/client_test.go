package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Channel int     `json:"channel"`
	Freq    float64 `json:"frequency_hz"`
}

func TestNewStandardClient(t *testing.T) {
	custom := &http.Client{}
	assert.Same(t, custom, NewStandardClient(custom).Client)
	assert.Same(t, http.DefaultClient, NewStandardClient(nil).Client)
}

func TestGetJSON_Mock(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"channel": 1, "frequency_hz": 37}`).
		AddResponse(http.StatusNotFound, `{"error": "no report for channel 4 yet"}`).
		AddResponse(http.StatusBadGateway, `<html>`).
		AddErrorResponse(errors.New("connection refused"))

	var got sample
	require.NoError(t, GetJSON(context.Background(), mock, "http://dvs/api/peaks?channel=1", &got))
	assert.Equal(t, sample{Channel: 1, Freq: 37}, got)

	err := GetJSON(context.Background(), mock, "http://dvs/api/peaks?channel=4", &got)
	assert.ErrorContains(t, err, "404 no report for channel 4 yet")

	err = GetJSON(context.Background(), mock, "http://dvs/api/peaks", &got)
	assert.ErrorContains(t, err, "status 502")

	err = GetJSON(context.Background(), mock, "http://dvs/api/peaks", &got)
	assert.ErrorContains(t, err, "connection refused")

	require.Equal(t, 4, mock.RequestCount())
	assert.Equal(t, "application/json", mock.Requests[0].Header.Get("Accept"))
	assert.Equal(t, "channel=1", mock.Requests[0].URL.RawQuery)
}

func TestGetJSON_DecodeError(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"channel": "one"}`)
	var got sample
	assert.ErrorContains(t, GetJSON(context.Background(), mock, "http://dvs/api/peaks", &got), "failed to decode")
}

func TestGetJSON_StandardClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, []sample{{Channel: 0, Freq: 10}})
	}))
	defer srv.Close()

	var got []sample
	require.NoError(t, GetJSON(context.Background(), NewStandardClient(srv.Client()), srv.URL, &got))
	assert.Equal(t, []sample{{Channel: 0, Freq: 10}}, got)
}
