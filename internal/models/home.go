package models

// CategoryEntry is one category extracted from the home API payload
type CategoryEntry struct {
	GroupTitle string `json:"category_group_title"`
	Name       string `json:"category_name"`
	Deeplink   string `json:"deeplink"`
	StoreID    string `json:"store_id,omitempty"`
	WidgetID   string `json:"widget_id,omitempty"`
	ImageID    string `json:"image_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

// HomeManifest is the processed category list produced by the seed phase and
// persisted alongside the raw home payload
type HomeManifest struct {
	TotalCategories int             `json:"total_categories"`
	StoreID         string          `json:"store_id"`
	Categories      []CategoryEntry `json:"categories"`
}

// Nodes converts the manifest entries into category crawl nodes
func (m *HomeManifest) Nodes() []Node {
	nodes := make([]Node, 0, len(m.Categories))
	for _, c := range m.Categories {
		nodes = append(nodes, Node{
			Name:     c.Name,
			Deeplink: c.Deeplink,
			Kind:     NodeKindCategory,
		})
	}
	return nodes
}
