package serviceutils

import (
	"github.com/labstack/echo/v4"
)

// Response is the JSON envelope of every non-file API reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ResponseSuccess(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func ResponseError(c echo.Context, status int, message string, err error) error {
	resp := Response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(status, resp)
}
