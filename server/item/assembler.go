package item

import (
	"math"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
	"github.com/gear6io/annolake/utils"
)

// Columns owned by the join itself; they are never surfaced as features.
var reserved = map[string]bool{
	"id":        true,
	"item_id":   true,
	"view_id":   true,
	"source_id": true,
	"split":     true,
	"bbox":      true,
}

const (
	viewsColumn    = "views"
	distanceColumn = "distance"
)

// Assembler joins the rows of one item across every table of a dataset and
// decomposes edited items back into rows. It holds no state of its own.
type Assembler struct {
	store    storage.Store
	registry *schema.Registry
}

// NewAssembler creates an assembler over a dataset store
func NewAssembler(store storage.Store) *Assembler {
	return &Assembler{store: store, registry: store.Registry()}
}

// GetItem assembles an item from its main row, its view media rows, the
// objects of every objects table and its embeddings.
func (a *Assembler) GetItem(itemID string) (*DatasetItem, error) {
	main, err := a.registry.Main()
	if err != nil {
		return nil, err
	}

	rows, err := a.store.Lookup(schema.GroupMain, main.Name, itemID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(ErrItemNotFound, "item not found", nil).AddContext("item_id", itemID)
	}
	row := rows[0]

	it := &DatasetItem{
		ID:         itemID,
		Split:      row.Split(),
		Views:      []ItemView{},
		Objects:    []ItemObject{},
		Embeddings: map[string]ItemEmbedding{},
	}

	columns, err := a.store.Columns(schema.GroupMain, main.Name)
	if err != nil {
		return nil, err
	}
	it.Features = features(columns, row)
	if d, ok := row[distanceColumn].(float64); ok {
		it.WithDistance(d)
	}

	if err := a.loadViews(it, row); err != nil {
		return nil, err
	}
	if err := a.loadObjects(it); err != nil {
		return nil, err
	}
	if err := a.loadEmbeddings(it); err != nil {
		return nil, err
	}
	return it, nil
}

func (a *Assembler) loadViews(it *DatasetItem, row storage.Row) error {
	names, _ := row[viewsColumn].([]string)
	for _, name := range names {
		table, err := a.registry.Resolve(schema.GroupMedia, name)
		if err != nil {
			continue
		}

		view := ItemView{ID: name, Features: []ItemFeature{}}
		rows, err := a.store.Lookup(schema.GroupMedia, table.Name, it.ID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			columns, err := a.store.Columns(schema.GroupMedia, table.Name)
			if err != nil {
				return err
			}
			if field, ok := imageField(table); ok {
				view.Image, _ = rows[0][field].(types.Image)
			}
			view.Features = features(columns, rows[0])
		}
		it.Views = append(it.Views, view)
	}
	return nil
}

func (a *Assembler) loadObjects(it *DatasetItem) error {
	for _, table := range a.registry.Tables(schema.GroupObjects) {
		rows, err := a.store.Lookup(schema.GroupObjects, table.Name, it.ID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		columns, err := a.store.Columns(schema.GroupObjects, table.Name)
		if err != nil {
			return err
		}

		// rows sharing an object id describe one object
		byID := make(map[string]storage.Row)
		for _, r := range rows {
			id := r.String("id")
			if merged, ok := byID[id]; ok {
				for k, v := range r {
					if v != nil {
						merged[k] = v
					}
				}
				continue
			}
			byID[id] = r
		}

		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			r := byID[id]
			obj := ItemObject{
				ID:       id,
				ItemID:   it.ID,
				ViewID:   r.String("view_id"),
				SourceID: table.Source,
				Table:    table.Name,
				Features: features(columns, r),
			}
			if box, ok := r["bbox"].(types.BBox); ok && len(box.Coords) == 4 && !box.IsZero() {
				xywh := box.XYWH()
				obj.BBox = &xywh
			}
			it.Objects = append(it.Objects, obj)
		}
	}
	return nil
}

func (a *Assembler) loadEmbeddings(it *DatasetItem) error {
	for _, table := range a.registry.Tables(schema.GroupEmbeddings) {
		field, ok := embeddingField(table)
		if !ok {
			continue
		}
		rows, err := a.store.Lookup(schema.GroupEmbeddings, table.Name, it.ID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if vec, ok := r[field].([]float32); ok {
				it.Embeddings[table.Name] = ItemEmbedding{Model: table.Name, Vector: vec}
				break
			}
		}
	}
	return nil
}

// PutItem replaces everything stored for an item with the content of it.
// Nil Views, Objects or Embeddings leave the matching tables untouched; a
// non-nil empty value removes the item's rows from them. Columns the item
// does not surface are carried over from the stored rows. The write is not
// atomic across tables.
func (a *Assembler) PutItem(itemID string, it *DatasetItem) error {
	if it == nil {
		return errors.New(ErrInvalidItem, "nil item", nil).AddContext("item_id", itemID)
	}
	if it.ID != "" && it.ID != itemID {
		return errors.New(ErrInvalidItem, "item id does not match", nil).
			AddContext("item_id", itemID).
			AddContext("body_id", it.ID)
	}

	main, err := a.registry.Main()
	if err != nil {
		return err
	}

	batch := storage.RowsByTable{}

	mainRow, err := a.storedRow(schema.GroupMain, main.Name, itemID)
	if err != nil {
		return err
	}
	mainRow["id"] = itemID
	if it.Split != "" {
		mainRow["split"] = it.Split
	}
	if it.Views != nil {
		names := make([]string, 0, len(it.Views))
		for _, v := range it.Views {
			names = append(names, v.ID)
		}
		mainRow[viewsColumn] = names
	}
	applyFeatures(mainRow, it.Features)
	batch.Add(schema.GroupMain, main.Name, mainRow)

	if it.Views != nil {
		if err := a.viewRows(batch, itemID, it.Views); err != nil {
			return err
		}
	}
	if it.Objects != nil {
		if err := a.objectRows(batch, itemID, it.Objects); err != nil {
			return err
		}
	}
	if it.Embeddings != nil {
		if err := a.embeddingRows(batch, itemID, it.Embeddings); err != nil {
			return err
		}
	}

	return a.store.ReplaceItem(itemID, batch)
}

func (a *Assembler) viewRows(batch storage.RowsByTable, itemID string, views []ItemView) error {
	for _, table := range a.registry.Tables(schema.GroupMedia) {
		batch.Add(schema.GroupMedia, table.Name)
	}

	for _, view := range views {
		table, err := a.registry.Resolve(schema.GroupMedia, view.ID)
		if err != nil {
			return unknownTable(schema.GroupMedia, view.ID, err)
		}
		row, err := a.storedRow(schema.GroupMedia, table.Name, itemID)
		if err != nil {
			return err
		}
		field, hasImage := imageField(table)
		if view.Image.URI == "" && len(view.Features) == 0 && (!hasImage || row[field] == nil) {
			continue
		}

		row["id"] = itemID
		if hasImage && view.Image.URI != "" {
			row[field] = view.Image
		}
		applyFeatures(row, view.Features)
		batch.Add(schema.GroupMedia, table.Name, row)
	}
	return nil
}

func (a *Assembler) objectRows(batch storage.RowsByTable, itemID string, objects []ItemObject) error {
	tables := a.registry.Tables(schema.GroupObjects)
	stored := make(map[string]map[string]storage.Row, len(tables))
	for _, table := range tables {
		batch.Add(schema.GroupObjects, table.Name)
	}

	for _, obj := range objects {
		table, err := a.objectTable(tables, obj)
		if err != nil {
			return err
		}

		existing, ok := stored[table.Name]
		if !ok {
			rows, err := a.store.Lookup(schema.GroupObjects, table.Name, itemID)
			if err != nil {
				return err
			}
			existing = make(map[string]storage.Row, len(rows))
			for _, r := range rows {
				existing[r.String("id")] = r
			}
			stored[table.Name] = existing
		}

		id := obj.ID
		if id == "" {
			id = utils.NewObjectID()
		}
		row := storage.Row{}
		if prev, ok := existing[id]; ok {
			row = prev.Clone()
			delete(row, "split")
		}
		row["id"] = id
		row["item_id"] = itemID
		row["view_id"] = obj.ViewID
		if obj.BBox != nil {
			row["bbox"] = *obj.BBox
		} else {
			row["bbox"] = nil
		}
		applyFeatures(row, obj.Features)
		batch.Add(schema.GroupObjects, table.Name, row)
	}
	return nil
}

// objectTable resolves the table of an object by name, then by source
func (a *Assembler) objectTable(tables []schema.DatasetTable, obj ItemObject) (schema.DatasetTable, error) {
	if obj.Table != "" {
		table, err := a.registry.Resolve(schema.GroupObjects, obj.Table)
		if err != nil {
			return schema.DatasetTable{}, unknownTable(schema.GroupObjects, obj.Table, err)
		}
		return table, nil
	}
	for _, t := range tables {
		if obj.SourceID != "" && t.Source == obj.SourceID {
			return t, nil
		}
	}
	if obj.SourceID == "" && len(tables) == 1 {
		return tables[0], nil
	}
	return schema.DatasetTable{}, unknownTable(schema.GroupObjects, obj.SourceID, nil)
}

func (a *Assembler) embeddingRows(batch storage.RowsByTable, itemID string, embeddings map[string]ItemEmbedding) error {
	for _, table := range a.registry.Tables(schema.GroupEmbeddings) {
		batch.Add(schema.GroupEmbeddings, table.Name)
	}

	models := make([]string, 0, len(embeddings))
	for model := range embeddings {
		models = append(models, model)
	}
	sort.Strings(models)

	for _, model := range models {
		table, err := a.registry.Resolve(schema.GroupEmbeddings, model)
		if err != nil {
			return unknownTable(schema.GroupEmbeddings, model, err)
		}
		field, ok := embeddingField(table)
		if !ok {
			return unknownTable(schema.GroupEmbeddings, model, nil)
		}
		row, err := a.storedRow(schema.GroupEmbeddings, table.Name, itemID)
		if err != nil {
			return err
		}
		row["id"] = itemID
		row[field] = embeddings[model].Vector
		batch.Add(schema.GroupEmbeddings, table.Name, row)
	}
	return nil
}

// storedRow returns a copy of the first stored row of an item in a table,
// or an empty row
func (a *Assembler) storedRow(group schema.TableGroup, table, itemID string) (storage.Row, error) {
	rows, err := a.store.Lookup(group, table, itemID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return storage.Row{}, nil
	}
	row := rows[0].Clone()
	if group != schema.GroupMain {
		delete(row, "split")
	}
	return row, nil
}

// ListItems assembles the items of a split ordered by id. An empty split
// lists every split; a non-positive limit returns everything after offset.
func (a *Assembler) ListItems(split string, offset, limit int) (Page, error) {
	main, err := a.registry.Main()
	if err != nil {
		return Page{}, err
	}

	rows, err := a.store.Scan(schema.GroupMain, main.Name, storage.Filter{Split: split})
	if err != nil {
		return Page{}, err
	}
	seen := make(map[string]bool)
	var ids []string
	for row := range rows {
		id := row.String("id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	offset = max(offset, 0)
	page := Page{Items: []*DatasetItem{}, Total: len(ids), Offset: offset, Limit: limit}
	if offset >= len(ids) {
		return page, nil
	}
	end := len(ids)
	if limit > 0 {
		end = min(end, offset+limit)
	}

	for _, id := range ids[offset:end] {
		it, err := a.GetItem(id)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

// features surfaces the non-reserved scalar columns of a row in column order
func features(columns []arrow.Field, row storage.Row) []ItemFeature {
	out := []ItemFeature{}
	for _, c := range columns {
		if reserved[c.Name] || c.Name == distanceColumn {
			continue
		}
		kind := schema.Classify(c.Type)
		if kind == schema.KindUnknown {
			continue
		}
		out = append(out, ItemFeature{Name: c.Name, Dtype: kind, Value: normalizeValue(kind, row[c.Name])})
	}
	return out
}

func normalizeValue(kind schema.FeatureKind, v any) any {
	if kind != schema.KindNumber {
		return v
	}
	switch n := v.(type) {
	case float32:
		return float64(n)
	case int32:
		return int64(n)
	case float64:
		if math.IsNaN(n) {
			return nil
		}
	}
	return v
}

// applyFeatures writes feature values into a row. Synthetic and reserved
// names are skipped.
func applyFeatures(row storage.Row, fs []ItemFeature) {
	for _, f := range fs {
		if f.Name == SearchDistanceFeature || reserved[f.Name] || f.Name == distanceColumn || strings.TrimSpace(f.Name) == "" {
			continue
		}
		row[f.Name] = f.Value
	}
}

func imageField(table schema.DatasetTable) (string, bool) {
	return firstField(table, schema.TypeImage)
}

func embeddingField(table schema.DatasetTable) (string, bool) {
	return firstField(table, schema.TypeEmbedding)
}

func firstField(table schema.DatasetTable, ft schema.FieldType) (string, bool) {
	for _, f := range table.Fields {
		if f.Type == ft {
			return f.Name, true
		}
	}
	return "", false
}

func unknownTable(group schema.TableGroup, name string, cause error) error {
	return errors.New(schema.UnknownTable, "table is not declared in the dataset", cause).
		AddContext("group", string(group)).
		AddContext("table", name)
}
