package httputil

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"peaks": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"peaks": 3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, []int{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "invalid channel") }, http.StatusBadRequest, "invalid channel"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no report") }, http.StatusNotFound, "no report"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "render failed") }, http.StatusInternalServerError, "render failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}

func TestWriteJSON_EncodeFailureIsLogged(t *testing.T) {
	var ops bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &ops})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.LogWriters{}) })

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, math.NaN())

	assert.Equal(t, http.StatusOK, rec.Code, "status is committed before encoding")
	assert.Contains(t, ops.String(), "failed to encode json response")
}
