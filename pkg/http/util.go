package http

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// QueryBool reads a boolean query parameter; anything unparsable is false.
func QueryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}
