package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/logger"
	"github.com/locvowork/appendsheet/internal/service"
	"github.com/locvowork/appendsheet/internal/service/serviceutils"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExportHandler struct {
	svc *service.ExportService
}

func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{svc: svc}
}

// ExportHandler runs the JSON job in the request body and returns the
// workbook as an attachment.
func (h *ExportHandler) ExportHandler(c echo.Context) error {
	ctx := c.Request().Context()
	job, err := service.DecodeJobJSON(c.Request().Body)
	if err != nil {
		return serviceutils.ResponseError(c, http.StatusBadRequest, "Invalid export job", err)
	}

	var buf bytes.Buffer
	res, err := h.svc.Export(ctx, job, &buf)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.ErrorLog(ctx, err, "export %s failed", job.Name)
		}
		return serviceutils.ResponseError(c, status, "Failed to export workbook", err)
	}

	name := job.Name
	if name == "" {
		name = "export"
	}
	c.Response().Header().Set("Content-Type", xlsxContentType)
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name+".xlsx"))
	c.Response().Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	c.Response().Header().Set("X-Job-ID", res.JobID)
	c.Response().WriteHeader(http.StatusOK)

	_, err = c.Response().Write(buf.Bytes())
	return err
}

// TemplatesHandler lists the loaded sheets and their sections.
func (h *ExportHandler) TemplatesHandler(c echo.Context) error {
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Templates listed successfully", h.svc.Templates())
}

func HealthHandler(c echo.Context) error {
	return serviceutils.ResponseSuccess(c, http.StatusOK, "ok", nil)
}

// statusFor maps export errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, appendsheet.ErrUnknownSheet):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidJob),
		errors.Is(err, domain.ErrSourceUnavailable),
		errors.Is(err, appendsheet.ErrValidation),
		errors.Is(err, appendsheet.ErrSchemaMismatch),
		errors.Is(err, appendsheet.ErrEmptyBlock),
		errors.Is(err, appendsheet.ErrUnknownBlock),
		errors.Is(err, appendsheet.ErrSectionExhausted):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
