package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/ensemble-forecast/internal/store"
	"github.com/i474232898/ensemble-forecast/internal/weather"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/forecast/ensemble", func(c *fiber.Ctx) error {
		var q ensembleQuery
		if err := q.bind(c); err != nil {
			return err
		}
		loc, err := q.Location.resolve(service)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		resp, err := service.EnsembleForecast(ctx, weather.EnsembleRequest{Location: loc, Days: q.Days})
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	v1.Get("/forecast/nowcast", func(c *fiber.Ctx) error {
		var q nowcastQuery
		if err := q.bind(c); err != nil {
			return err
		}
		loc, err := q.Location.resolve(service)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		resp, err := service.Nowcast(ctx, weather.NowcastRequest{Location: loc, Hours: q.Hours})
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	v1.Get("/forecast/records", func(c *fiber.Ctx) error {
		var q recordsQuery
		if err := q.bind(c); err != nil {
			return err
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		records, err := service.Records(ctx, q.ID, q.From, q.To)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"locationId": q.ID,
			"from":       q.From,
			"to":         q.To,
			"records":    records,
		})
	})

	v1.Get("/models", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"models": service.Models(),
			"algorithms": []weather.AlgorithmInfo{
				weather.EnsembleAlgorithm,
				weather.NowcastAlgorithm,
			},
		})
	})
}

// requestContext bounds a handler by the server's write timeout. fasthttp
// never cancels the user context when a client disconnects, so the timeout
// is what stops upstream calls for an abandoned request.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if timeout := c.App().Config().WriteTimeout; timeout > 0 {
		return context.WithTimeout(c.UserContext(), timeout)
	}
	return context.WithCancel(c.UserContext())
}

// ErrorHandler renders every error as the structured error body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status == StatusClientClosedRequest {
		return c.SendStatus(status)
	}
	return c.Status(status).JSON(body)
}

type errorResponse struct {
	Error       bool     `json:"error"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	ModelsTried []string `json:"modelsTried,omitempty"`
}

func errorBody(err error) (int, errorResponse) {
	var (
		total    *weather.TotalFailureError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &total):
		return fiber.StatusBadGateway, errorResponse{
			Error:       true,
			Code:        "upstream_unavailable",
			Message:     err.Error(),
			ModelsTried: total.Models,
		}
	case errors.Is(err, weather.ErrInvalidRequest):
		return fiber.StatusBadRequest, errorResponse{Error: true, Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound, errorResponse{Error: true, Code: "not_found", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, errorResponse{}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, errorResponse{Error: true, Code: "timeout", Message: "request timed out"}
	case errors.As(err, &fiberErr):
		code := "http_error"
		if fiberErr.Code == fiber.StatusNotFound {
			code = "not_found"
		}
		return fiberErr.Code, errorResponse{Error: true, Code: code, Message: fiberErr.Message}
	default:
		return fiber.StatusInternalServerError, errorResponse{Error: true, Code: "internal_error", Message: "internal error"}
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", weather.ErrInvalidRequest, msg)
}

// locationQuery identifies a location by configured id or by coordinates.
type locationQuery struct {
	ID  string   `validate:"omitempty,max=64"`
	Lat *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lon *float64 `validate:"omitempty,gte=-180,lte=180"`
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery
	q.ID = strings.TrimSpace(c.Query("id"))

	var err error
	if q.Lat, err = parseOptionalFloat(c.Query("lat"), "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = parseOptionalFloat(c.Query("lon"), "lon"); err != nil {
		return q, err
	}
	if err := validate.Struct(q); err != nil {
		return q, invalid(err.Error())
	}
	return q, nil
}

// resolve prefers explicit coordinates and falls back to a configured id.
func (l locationQuery) resolve(service *weather.Service) (weather.Location, error) {
	switch {
	case l.Lat != nil && l.Lon != nil:
		return weather.Location{ID: l.ID, Latitude: *l.Lat, Longitude: *l.Lon}, nil
	case l.Lat != nil || l.Lon != nil:
		return weather.Location{}, invalid("lat and lon must be given together")
	case l.ID != "":
		return service.Locate(l.ID)
	default:
		return weather.Location{}, invalid("id or lat and lon query parameters are required")
	}
}

func parseOptionalFloat(s, name string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, invalid("invalid " + name + ": " + s)
	}
	return &v, nil
}

func parseRequiredInt(s, name string) (int, error) {
	if s == "" {
		return 0, invalid(name + " query parameter is required")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid("invalid " + name + ": " + s)
	}
	return v, nil
}

// ensembleQuery holds query parameters for the ensemble endpoint.
type ensembleQuery struct {
	Location locationQuery
	Days     int `validate:"min=1"`
}

func (q *ensembleQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	q.Location = loc
	if q.Days, err = parseRequiredInt(c.Query("days"), "days"); err != nil {
		return err
	}
	if err := validate.Struct(q); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// nowcastQuery holds query parameters for the nowcast endpoint.
type nowcastQuery struct {
	Location locationQuery
	Hours    int `validate:"min=1"`
}

func (q *nowcastQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	q.Location = loc
	if q.Hours, err = parseRequiredInt(c.Query("hours"), "hours"); err != nil {
		return err
	}
	if err := validate.Struct(q); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// recordsQuery holds query parameters for the records endpoint.
type recordsQuery struct {
	ID   string    `validate:"required"`
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (q *recordsQuery) bind(c *fiber.Ctx) error {
	q.ID = strings.TrimSpace(c.Query("id"))

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return invalid("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	q.From = from
	q.To = to
	if err := validate.Struct(q); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, invalid("invalid time format; use RFC3339 or unix seconds")
}
