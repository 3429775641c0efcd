package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

const gridWidgetType = "type.googleapis.com/swiggy.gandalf.widgets.v2.GridWidget"

const listingDeeplinkPrefix = "swiggy://stores/instamart/category-listing"

// ExtractCategories walks the home API payload and collects every category
// card. Grid widgets without a header title are banners and are skipped, as
// are items whose action link is not a category-listing deeplink.
func ExtractCategories(raw []byte) (*models.HomeManifest, error) {
	if !gjson.ValidBytes(raw) {
		return nil, Terminal("home payload is not valid JSON", nil)
	}

	manifest := &models.HomeManifest{}
	cards := gjson.GetBytes(raw, "data.cards")
	if !cards.Exists() {
		return nil, Terminal("home payload has no cards", nil)
	}

	cards.ForEach(func(_, card gjson.Result) bool {
		widget := card.Get("card.card")
		if widget.Get("@type").String() != gridWidgetType {
			return true
		}
		groupTitle := widget.Get("header.title").String()
		if groupTitle == "" {
			return true
		}
		widgetID := widget.Get("id").String()

		widget.Get("gridElements.infoWithStyle.info").ForEach(func(_, item gjson.Result) bool {
			link := item.Get("action.link").String()
			if !strings.Contains(link, listingDeeplinkPrefix) {
				return true
			}
			name := item.Get("description").String()
			if name == "" {
				name = deeplinkCategoryName(link)
			}
			if name == "" {
				return true
			}
			manifest.Categories = append(manifest.Categories, models.CategoryEntry{
				GroupTitle: groupTitle,
				Name:       name,
				Deeplink:   link,
				StoreID:    common.ExtractStoreID(link),
				WidgetID:   widgetID,
				ImageID:    item.Get("imageId").String(),
				ItemID:     item.Get("id").String(),
			})
			return true
		})
		return true
	})

	manifest.TotalCategories = len(manifest.Categories)
	if len(manifest.Categories) > 0 {
		manifest.StoreID = manifest.Categories[0].StoreID
	}
	if manifest.TotalCategories == 0 {
		return nil, Terminal("no categories found in home payload", nil)
	}
	return manifest, nil
}

func deeplinkCategoryName(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("categoryName")
}

// ExtractFilters reads the filter list out of a category's page-0 payload
// and converts each entry into a filter node. Filters missing id, name or
// type are dropped.
func ExtractFilters(category models.Node, pageZero []byte, storeConfig *common.StoreConfig) ([]models.Node, error) {
	if !gjson.ValidBytes(pageZero) {
		return nil, fmt.Errorf("page-0 payload for %s is not valid JSON", category.Name)
	}

	storeID := common.ExtractStoreID(category.Deeplink)
	if storeID == "" {
		storeID = storeConfig.StoreID
	}

	var nodes []models.Node
	gjson.GetBytes(pageZero, "data.filters").ForEach(func(_, f gjson.Result) bool {
		id := f.Get("id").String()
		name := f.Get("name").String()
		ftype := f.Get("type").String()
		if id == "" || name == "" || ftype == "" {
			return true
		}
		nodes = append(nodes, models.Node{
			Name:       name,
			Deeplink:   common.BuildFilterURL(storeConfig.BaseURL, storeConfig.ListingPath, category.Name, id, ftype, storeID),
			Kind:       models.NodeKindFilter,
			Parent:     category.Name,
			FilterID:   id,
			FilterType: ftype,
		})
		return true
	})
	return nodes, nil
}
