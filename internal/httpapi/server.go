package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Store is the read side of the database served over HTTP.
type Store interface {
	Ping(ctx context.Context) error
	QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.PipelineStats, error)
	ListStories(ctx context.Context, opts db.StoryListOptions) ([]db.StorySummary, error)
	GetStoryDetail(ctx context.Context, storiesID int64) (*db.StoryDetail, error)
	FindStoriesByURL(ctx context.Context, rawURL string) ([]db.StorySummary, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	FeedTitle       string
	FeedLink        string
}

type Server struct {
	store  Store
	logger zerolog.Logger
	opts   Options
}

func NewServer(store Store, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	feedTitle := strings.TrimSpace(opts.FeedTitle)
	if feedTitle == "" {
		feedTitle = "newswire stories"
	}
	feedLink := strings.TrimSpace(opts.FeedLink)
	if feedLink == "" {
		feedLink = fmt.Sprintf("http://%s:%d/", host, port)
	}

	return &Server{
		store:  store,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			FeedTitle:       feedTitle,
			FeedLink:        feedLink,
		},
	}
}

// Handler builds the echo router without starting a listener.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/feed.xml", s.handleFeed)

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/stories", s.handleStories)
	api.GET("/stories/:stories_id", s.handleStoryDetail)
	api.GET("/aliases", s.handleAliases)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("newswire api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newswire api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = serverError(c, status, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return unavailable(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "newswire",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	day, err := parseDay(c.QueryParam("day"))
	if err != nil {
		return failValidation(c, map[string]string{"day": "must be YYYY-MM-DD"})
	}

	stats, err := s.store.QueryPipelineStats(c.Request().Context(), day, day.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleStories(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		return failValidation(c, map[string]string{"since": "must be RFC3339 or YYYY-MM-DD"})
	}

	opts := db.StoryListOptions{
		MediaName: strings.TrimSpace(c.QueryParam("media")),
		Since:     since,
		Limit:     limit,
	}
	items, err := s.store.ListStories(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stories failed")
		return internalError(c, "Failed to load stories")
	}

	return success(c, map[string]any{
		"items": items,
		"filters": map[string]any{
			"media": opts.MediaName,
			"since": opts.Since,
			"limit": opts.Limit,
		},
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storiesID, err := strconv.ParseInt(strings.TrimSpace(c.Param("stories_id")), 10, 64)
	if err != nil || storiesID <= 0 {
		return failValidation(c, map[string]string{"stories_id": "must be a positive integer"})
	}

	detail, err := s.store.GetStoryDetail(c.Request().Context(), storiesID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Int64("stories_id", storiesID).Msg("query story detail failed")
		return internalError(c, "Failed to load story detail")
	}
	return success(c, detail)
}

func (s *Server) handleAliases(c echo.Context) error {
	target := strings.TrimSpace(c.QueryParam("url"))
	if target == "" {
		return failValidation(c, map[string]string{"url": "is required"})
	}

	items, err := s.store.FindStoriesByURL(c.Request().Context(), target)
	if err != nil {
		s.logger.Error().Err(err).Str("url", target).Msg("alias lookup failed")
		return internalError(c, "Failed to look up url")
	}
	return success(c, map[string]any{
		"url":   target,
		"items": items,
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}
	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("invalid time format")
}

// parseDay defaults to the current UTC day.
func parseDay(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return globaltime.StartOfDay(globaltime.UTC()), nil
	}
	day, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return day.UTC(), nil
}
