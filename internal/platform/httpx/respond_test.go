package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMonthLocked = errors.New("month locked")

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestRespondErrorUsesCallerMappingsFirst(t *testing.T) {
	rr := httptest.NewRecorder()
	err := fmt.Errorf("confirm: %w", errMonthLocked)
	RespondError(rr, err, ErrorMapping{Err: errMonthLocked, Status: http.StatusLocked, Title: "Month Locked"})

	assert.Equal(t, http.StatusLocked, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	p := decodeProblem(t, rr)
	assert.Equal(t, "Month Locked", p.Title)
	assert.Contains(t, p.Detail, "month locked")
}

func TestRespondErrorDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("x: %w", ErrDuplicate))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, decodeProblem(t, rr).Detail)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	assert.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "a", target.Name)
}
