package item

import (
	"math"

	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/types"
)

// SearchDistanceFeature is the synthetic feature carrying a search distance
const SearchDistanceFeature = "search distance"

// ItemFeature is one scalar column surfaced on an item, view or object
type ItemFeature struct {
	Name  string             `json:"name"`
	Dtype schema.FeatureKind `json:"dtype"`
	Value any                `json:"value"`
}

// ItemView is the media row of one view of an item
type ItemView struct {
	ID       string        `json:"id"`
	Image    types.Image   `json:"image"`
	Features []ItemFeature `json:"features"`
}

// ItemObject is one annotation. BBox is exposed in xywh and is nil for
// absent or all-zero boxes.
type ItemObject struct {
	ID       string        `json:"id"`
	ItemID   string        `json:"item_id"`
	ViewID   string        `json:"view_id"`
	SourceID string        `json:"source_id"`
	Table    string        `json:"table"`
	BBox     *types.BBox   `json:"bbox,omitempty"`
	Features []ItemFeature `json:"features"`
}

// ItemEmbedding is the stored vector of an item for one model
type ItemEmbedding struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// DatasetItem is the joined view of everything stored for one item
type DatasetItem struct {
	ID         string                   `json:"id"`
	Split      string                   `json:"split"`
	Views      []ItemView               `json:"views"`
	Objects    []ItemObject             `json:"objects"`
	Features   []ItemFeature            `json:"features"`
	Embeddings map[string]ItemEmbedding `json:"embeddings"`
}

// Feature returns a feature by name
func (it *DatasetItem) Feature(name string) (ItemFeature, bool) {
	for _, f := range it.Features {
		if f.Name == name {
			return f, true
		}
	}
	return ItemFeature{}, false
}

// View returns a view by id
func (it *DatasetItem) View(id string) (ItemView, bool) {
	for _, v := range it.Views {
		if v.ID == id {
			return v, true
		}
	}
	return ItemView{}, false
}

// WithDistance sets the synthetic search distance feature, rounded to two
// decimals. An existing distance feature is replaced.
func (it *DatasetItem) WithDistance(distance float64) *DatasetItem {
	f := ItemFeature{
		Name:  SearchDistanceFeature,
		Dtype: schema.KindNumber,
		Value: math.Round(distance*100) / 100,
	}
	for i := range it.Features {
		if it.Features[i].Name == SearchDistanceFeature {
			it.Features[i] = f
			return it
		}
	}
	it.Features = append(it.Features, f)
	return it
}

// Page is one slice of a split's items
type Page struct {
	Items  []*DatasetItem `json:"items"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}
