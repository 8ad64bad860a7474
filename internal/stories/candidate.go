package stories

import (
	"fmt"
	"strings"
	"time"
)

// Candidate is a normalized story that has not been admitted yet.
type Candidate struct {
	GUID        string    `json:"guid"`
	URL         string    `json:"url"`
	PublishDate time.Time `json:"publish_date"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Text        string    `json:"text"`
	Content     string    `json:"-"`
}

func (c Candidate) Validate() error {
	if strings.TrimSpace(c.GUID) == "" {
		return fmt.Errorf("candidate guid must not be empty")
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("candidate %s url must not be empty", c.GUID)
	}
	if c.PublishDate.IsZero() {
		return fmt.Errorf("candidate %s publish date must be set", c.GUID)
	}
	return nil
}

// Age is the time elapsed between the publish date and now, truncated to whole seconds.
func (c Candidate) Age(now time.Time) time.Duration {
	return now.Sub(c.PublishDate).Truncate(time.Second)
}
