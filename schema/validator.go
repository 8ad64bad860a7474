package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed content_item.schema.json
var contentItemSchemaJSON string

// ContentItem is the subset of an AP Media API item the fetcher reads.
type ContentItem struct {
	AltIDs           AltIDs               `json:"altids"`
	URI              string               `json:"uri,omitempty"`
	Version          int                  `json:"version"`
	Type             string               `json:"type,omitempty"`
	PubStatus        string               `json:"pubstatus,omitempty"`
	FirstCreated     string               `json:"firstcreated"`
	VersionCreated   string               `json:"versioncreated,omitempty"`
	Headline         string               `json:"headline"`
	HeadlineExtended *string              `json:"headline_extended,omitempty"`
	Links            []Link               `json:"links,omitempty"`
	Renditions       map[string]Rendition `json:"renditions,omitempty"`
}

type AltIDs struct {
	ItemID string `json:"itemid"`
	ETag   string `json:"etag,omitempty"`
}

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel,omitempty"`
}

type Rendition struct {
	Href      string `json:"href,omitempty"`
	ContentID string `json:"contentid,omitempty"`
}

// NITFHref returns the download href of the nitf rendition, or "" when absent.
func (c *ContentItem) NITFHref() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Renditions["nitf"].Href)
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateContentItem checks one raw item against the content item schema and decodes it.
func ValidateContentItem(payload json.RawMessage) (*ContentItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode content item JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize content item JSON: %w", err)
	}

	var item ContentItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal content item: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

// ValidateContentEnvelope extracts and validates data.item from a content endpoint response.
func ValidateContentEnvelope(body []byte) (*ContentItem, error) {
	var envelope struct {
		Data struct {
			Item json.RawMessage `json:"item"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode content response: %w", err)
	}
	if len(bytes.TrimSpace(envelope.Data.Item)) == 0 || bytes.Equal(bytes.TrimSpace(envelope.Data.Item), []byte("null")) {
		return nil, fmt.Errorf("content response has no data.item")
	}
	return ValidateContentItem(envelope.Data.Item)
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("content_item.schema.json", strings.NewReader(contentItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("content_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *ContentItem) error {
	if item == nil {
		return fmt.Errorf("content item is nil")
	}
	if strings.TrimSpace(item.AltIDs.ItemID) == "" {
		return fmt.Errorf("altids.itemid must not be empty")
	}
	for i, link := range item.Links {
		if strings.TrimSpace(link.Href) == "" {
			return fmt.Errorf("links[%d].href must not be empty", i)
		}
	}
	return nil
}
