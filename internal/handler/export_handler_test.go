package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/service"
	"github.com/locvowork/appendsheet/internal/service/serviceutils"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

func newHandler(t *testing.T) *ExportHandler {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Title", "$KEY.title"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"$REP.name", "$REP.score"}))
	path := filepath.Join(t.TempDir(), "t.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	reg, err := appendsheet.LoadTemplates([]string{path})
	require.NoError(t, err)
	schema, err := appendsheet.ParseSchemaBytes([]byte(`
blocks:
  - name: header
    fields:
      - {name: title, kind: text, required: true}
  - name: scores
    fields:
      - {name: name, kind: text}
      - {name: score, kind: integer}
`))
	require.NoError(t, err)
	return NewExportHandler(service.NewExportService(reg, schema, nil, 100, true))
}

func do(t *testing.T, h echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestExportHandler(t *testing.T) {
	h := newHandler(t)
	rec := do(t, h.ExportHandler, http.MethodPost, "/exports", `{
		"name": "scores",
		"sheets": [{"name": "Sheet1", "blocks": [
			{"kind": "static", "cells": [{"name": "title", "value": "Week 1"}]},
			{"kind": "repeated", "fields": ["name", "score"], "rows": [["ann", 7], ["ben", "9"]]}
		]}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="scores.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("X-Job-ID"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Title", "Week 1"}, {"ann", "7"}, {"ben", "9"}}, rows)
}

func TestExportHandlerErrors(t *testing.T) {
	h := newHandler(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"sheets": [`, http.StatusBadRequest},
		{"invalid job", `{"sheets": []}`, http.StatusUnprocessableEntity},
		{"unknown sheet", `{"sheets": [{"name": "Nope", "blocks": [{"kind": "static"}]}]}`, http.StatusNotFound},
		{"validation", `{"sheets": [{"name": "Sheet1", "blocks": [
			{"kind": "repeated", "fields": ["name", "score"], "rows": [["ann", "lots"]]}]}]}`, http.StatusUnprocessableEntity},
		{"exhausted", `{"sheets": [{"name": "Sheet1", "blocks": [
			{"kind": "repeated", "fields": ["name", "score"], "rows": [["a", 1]]},
			{"kind": "repeated", "fields": ["name", "score"], "rows": [["b", 2]]}]}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h.ExportHandler, http.MethodPost, "/exports", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp serviceutils.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestTemplatesHandler(t *testing.T) {
	h := newHandler(t)
	rec := do(t, h.TemplatesHandler, http.MethodGet, "/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			Name     string `json:"name"`
			Sections []struct {
				Kind   string   `json:"kind"`
				Fields []string `json:"fields"`
			} `json:"sections"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	require.Len(t, resp.Data[0].Sections, 2)
	assert.Equal(t, "repeated", resp.Data[0].Sections[1].Kind)
	assert.Equal(t, []string{"name", "score"}, resp.Data[0].Sections[1].Fields)
}

func TestHealthHandler(t *testing.T) {
	rec := do(t, HealthHandler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(appendsheet.ErrExport))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("x: %w", appendsheet.ErrEmptyBlock)))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", appendsheet.ErrUnknownSheet)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("%w: %q", domain.ErrSourceUnavailable, "elastic")))
}
