package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
	"horse.fit/newswire/internal/reader"
)

const feedDescriptionLimit = 400

func (s *Server) handleFeed(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, maxPageSize)
	if err != nil {
		return c.String(http.StatusBadRequest, "limit "+err.Error())
	}

	items, err := s.store.ListStories(c.Request().Context(), db.StoryListOptions{
		MediaName: strings.TrimSpace(c.QueryParam("media")),
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query feed stories failed")
		return c.String(http.StatusInternalServerError, "Failed to load stories")
	}

	rss, err := s.buildFeed(items).ToRss()
	if err != nil {
		s.logger.Error().Err(err).Msg("render rss failed")
		return c.String(http.StatusInternalServerError, "Failed to render feed")
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

func (s *Server) buildFeed(items []db.StorySummary) *feeds.Feed {
	updated := globaltime.UTC()
	if len(items) > 0 {
		updated = items[0].CollectDate
	}

	feed := &feeds.Feed{
		Title:       s.opts.FeedTitle,
		Description: "Stories admitted by newswire, newest first",
		Link:        &feeds.Link{Href: s.opts.FeedLink},
		Id:          s.opts.FeedLink + "feed.xml",
		Created:     updated,
		Updated:     updated,
	}

	for _, item := range items {
		description, _ := reader.TruncateText(item.Description, feedDescriptionLimit)
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       item.Title,
			Link:        &feeds.Link{Href: item.URL, Rel: "alternate", Type: "text/html"},
			Id:          "newswire:" + strconv.FormatInt(item.StoriesID, 10) + ":" + item.GUID,
			Author:      &feeds.Author{Name: item.MediaName},
			Description: description,
			Created:     item.PublishDate,
		})
	}
	return feed
}
