package common

import (
	"net/url"
	"strings"
)

// SafeFileName converts a node name to a filesystem-safe name: alphanumerics,
// spaces and underscores survive, trailing whitespace is trimmed, spaces
// become underscores. The result is stable for a given input, which keeps the
// artifact layout deterministic across runs.
func SafeFileName(name string) string {
	var b strings.Builder
	for _, c := range name {
		if isAlnum(c) || c == ' ' || c == '_' {
			b.WriteRune(c)
		}
	}
	return strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ConvertDeeplinkToWebURL converts a store app deeplink
// (swiggy://stores/instamart/category-listing?...) to the equivalent web URL
// on the category listing page, preserving the deeplink's query parameters
// and adding custom_back=true as the web client does.
func ConvertDeeplinkToWebURL(baseURL, listingPath, deeplink string) string {
	idx := strings.Index(deeplink, "?")
	if idx < 0 {
		return deeplink
	}

	params := url.Values{}
	for _, pair := range strings.Split(deeplink[idx+1:], "&") {
		if key, value, found := strings.Cut(pair, "="); found {
			params.Set(key, value)
		}
	}
	params.Set("custom_back", "true")

	return baseURL + listingPath + "?" + params.Encode()
}

// BuildFilterURL builds the category listing URL scoped to a single filter
func BuildFilterURL(baseURL, listingPath, categoryName, filterID, filterType, storeID string) string {
	params := url.Values{}
	params.Set("categoryName", categoryName)
	params.Set("custom_back", "true")
	params.Set("filterId", filterID)
	params.Set("filterName", "") // the web client sends it empty
	params.Set("offset", "0")
	params.Set("showAgeConsent", "false")
	params.Set("storeId", storeID)
	params.Set("taxonomyType", filterType)

	return baseURL + listingPath + "?" + params.Encode()
}

// ExtractStoreID pulls the storeId query parameter from a deeplink or URL,
// returning "" when absent
func ExtractStoreID(rawURL string) string {
	if !strings.Contains(rawURL, "storeId=") {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("storeId")
}
