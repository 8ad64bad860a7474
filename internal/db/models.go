package db

import (
	"time"
)

const (
	DownloadStateSuccess  = "success"
	DownloadStatePending  = "pending"
	DownloadStateFetching = "fetching"
	DownloadStateError    = "error"

	DownloadTypeContent = "content"
	DownloadTypeFeed    = "feed"

	FeedTypeSyndicated = "syndicated"
	FeedTypeWebPage    = "web_page"
)

// Medium maps newswire.media.
type Medium struct {
	MediaID         int64     `gorm:"column:media_id;primaryKey;autoIncrement"`
	Name            string    `gorm:"column:name;type:text;not null;uniqueIndex:media_name"`
	URL             string    `gorm:"column:url;type:text;not null"`
	FullTextRSS     *bool     `gorm:"column:full_text_rss;type:boolean"`
	ContentDelay    *int      `gorm:"column:content_delay;type:integer"`
	ForeignRSSLinks bool      `gorm:"column:foreign_rss_links;type:boolean;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Medium) TableName() string { return "newswire.media" }

// Feed maps newswire.feeds.
type Feed struct {
	FeedsID                int64      `gorm:"column:feeds_id;primaryKey;autoIncrement"`
	MediaID                int64      `gorm:"column:media_id;type:bigint;not null;uniqueIndex:feeds_media_name_url"`
	Name                   string     `gorm:"column:name;type:text;not null;uniqueIndex:feeds_media_name_url"`
	URL                    string     `gorm:"column:url;type:text;not null;uniqueIndex:feeds_media_name_url"`
	Type                   string     `gorm:"column:type;type:text;not null;default:syndicated"`
	Active                 bool       `gorm:"column:active;type:boolean;not null;default:true"`
	LastAttemptedDownload  *time.Time `gorm:"column:last_attempted_download_time;type:timestamptz"`
	LastSuccessfulDownload *time.Time `gorm:"column:last_successful_download_time;type:timestamptz"`
	CreatedAt              time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Feed) TableName() string { return "newswire.feeds" }

// Story maps newswire.stories.
type Story struct {
	StoriesID           int64     `gorm:"column:stories_id;primaryKey;autoIncrement"`
	MediaID             int64     `gorm:"column:media_id;type:bigint;not null;uniqueIndex:stories_guid,priority:2"`
	URL                 string    `gorm:"column:url;type:text;not null"`
	GUID                string    `gorm:"column:guid;type:text;not null;uniqueIndex:stories_guid,priority:1"`
	Title               string    `gorm:"column:title;type:text;not null"`
	NormalizedTitleHash *string   `gorm:"column:normalized_title_hash;type:uuid"`
	Description         string    `gorm:"column:description;type:text;not null;default:''"`
	PublishDate         time.Time `gorm:"column:publish_date;type:timestamp;not null"`
	CollectDate         time.Time `gorm:"column:collect_date;type:timestamp;not null;default:now()"`
	FullTextRSS         bool      `gorm:"column:full_text_rss;type:boolean;not null;default:false"`
	Language            *string   `gorm:"column:language;type:varchar(3)"`
}

func (Story) TableName() string { return "newswire.stories" }

// StoryURL maps newswire.story_urls; rows are alias URLs and guids of an existing story.
type StoryURL struct {
	StoryURLsID int64  `gorm:"column:story_urls_id;primaryKey;autoIncrement"`
	StoriesID   int64  `gorm:"column:stories_id;type:bigint;not null;uniqueIndex:story_urls_url,priority:2"`
	URL         string `gorm:"column:url;type:text;not null;uniqueIndex:story_urls_url,priority:1"`
}

func (StoryURL) TableName() string { return "newswire.story_urls" }

// FeedStory maps newswire.feeds_stories_map.
type FeedStory struct {
	FeedsStoriesMapID int64 `gorm:"column:feeds_stories_map_id;primaryKey;autoIncrement"`
	FeedsID           int64 `gorm:"column:feeds_id;type:bigint;not null;uniqueIndex:feeds_stories_map_feed_story"`
	StoriesID         int64 `gorm:"column:stories_id;type:bigint;not null;uniqueIndex:feeds_stories_map_feed_story"`
}

func (FeedStory) TableName() string { return "newswire.feeds_stories_map" }

// Download maps newswire.downloads.
type Download struct {
	DownloadsID  int64     `gorm:"column:downloads_id;primaryKey;autoIncrement"`
	FeedsID      int64     `gorm:"column:feeds_id;type:bigint;not null"`
	StoriesID    *int64    `gorm:"column:stories_id;type:bigint"`
	Parent       *int64    `gorm:"column:parent;type:bigint"`
	URL          string    `gorm:"column:url;type:text;not null"`
	Host         string    `gorm:"column:host;type:text;not null;default:''"`
	DownloadTime time.Time `gorm:"column:download_time;type:timestamptz;not null;default:now()"`
	Type         string    `gorm:"column:type;type:text;not null"`
	State        string    `gorm:"column:state;type:text;not null"`
	Path         *string   `gorm:"column:path;type:text"`
	ErrorMessage *string   `gorm:"column:error_message;type:text"`
	Priority     int       `gorm:"column:priority;type:integer;not null;default:0"`
	Sequence     int       `gorm:"column:sequence;type:integer;not null;default:0"`
	Extracted    bool      `gorm:"column:extracted;type:boolean;not null;default:false"`
}

func (Download) TableName() string { return "newswire.downloads" }

// DownloadText maps newswire.download_texts.
type DownloadText struct {
	DownloadTextsID    int64  `gorm:"column:download_texts_id;primaryKey;autoIncrement"`
	DownloadsID        int64  `gorm:"column:downloads_id;type:bigint;not null;unique"`
	DownloadText       string `gorm:"column:download_text;type:text;not null"`
	DownloadTextLength int    `gorm:"column:download_text_length;type:integer;not null"`
}

func (DownloadText) TableName() string { return "newswire.download_texts" }

func autoMigrateModels() []any {
	return []any{
		&Medium{},
		&Feed{},
		&Story{},
		&StoryURL{},
		&FeedStory{},
		&Download{},
		&DownloadText{},
	}
}
