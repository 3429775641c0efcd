package fetch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

const initialStateMarker = "window.___INITIAL_STATE___"

// ExtractInitialState pulls the serialized initial-state object out of the
// rendered markup. Pages embed it as an inline script assignment, so the
// first JSON value after the marker is the whole state.
func ExtractInitialState(markup string) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}

	var state json.RawMessage
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(text, initialStateMarker)
		if idx < 0 {
			return true
		}
		rest := text[idx+len(initialStateMarker):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			return true
		}
		dec := json.NewDecoder(strings.NewReader(rest[eq+1:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return true
		}
		state = raw
		return false
	})

	if state == nil {
		return nil, fmt.Errorf("initial state not found in markup")
	}
	return state, nil
}

// CategoryData extracts the listing payload from the initial state. The
// second return reports whether the key was present at all.
func CategoryData(state json.RawMessage) (json.RawMessage, bool) {
	data := gjson.GetBytes(state, "instamart.categoryData")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, false
	}
	return json.RawMessage(data.Raw), true
}

// ValidListing reports whether a category-data payload carries actual
// listing content. Rate-limited responses come back structurally intact but
// with these keys empty.
func ValidListing(categoryData json.RawMessage) bool {
	for _, key := range []string{"categories", "filters", "widgets"} {
		v := gjson.GetBytes(categoryData, key)
		if v.IsArray() && len(v.Array()) > 0 {
			return true
		}
		if v.IsObject() && len(v.Map()) > 0 {
			return true
		}
	}
	return false
}

// APIErrorPayload reports whether a captured API body is the catalog's
// error shape rather than listing data
func APIErrorPayload(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return true
	}
	if gjson.GetBytes(payload, "statusCode").String() == "ERR_NON_2XX_3XX_RESPONSE" {
		return true
	}
	if gjson.GetBytes(payload, "stack").Exists() {
		return true
	}
	return !gjson.GetBytes(payload, "data").Exists()
}
