package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"gorm.io/gorm"

	"github.com/mohammed-shakir/clipship/internal/core/observability"
	"github.com/mohammed-shakir/clipship/internal/imagesvc"
)

// RasterSource is one file to ingest. Footprint is in the catalog's
// spatial reference; Name defaults to the file stem.
type RasterSource struct {
	Path      string
	Name      string
	Footprint orb.Geometry
}

type AddResult struct {
	ID        int64
	Duplicate bool
}

// AddRaster appends exactly one row for src and returns its id. A path that
// is already catalogued is not added again; its existing id is returned
// with Duplicate set.
func (c *Catalog) AddRaster(ctx context.Context, src RasterSource) (AddResult, error) {
	res, err := c.addRaster(c.db.WithContext(ctx), src)
	if err != nil {
		return AddResult{}, err
	}
	c.added(res, src)
	return res, nil
}

// Ingest adds src and writes attrs onto its row in one transaction. Either
// both land or the catalog is left as it was.
func (c *Catalog) Ingest(ctx context.Context, src RasterSource, attrs map[string]any, oidField string) (AddResult, error) {
	set, err := c.attributeSet(ctx, attrs, oidField)
	if err != nil {
		return AddResult{}, err
	}
	var res AddResult
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := c.addRaster(tx, src)
		if err != nil {
			return err
		}
		if err := c.updateRow(tx, r.ID, set); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}
	c.added(res, src)
	return res, nil
}

func (c *Catalog) added(res AddResult, src RasterSource) {
	if res.Duplicate {
		c.logger.Info("raster already catalogued", "path", src.Path, "row_id", res.ID)
		return
	}
	observability.IncCatalogRows()
	c.logger.Info("raster added", "catalog", c.name, "row_id", res.ID, "path", src.Path)
}

func (c *Catalog) addRaster(db *gorm.DB, src RasterSource) (AddResult, error) {
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return AddResult{}, fmt.Errorf("resolve raster path: %w", err)
	}

	var existing []int64
	lookup := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		c.quote(FieldObjectID), c.quote(c.name), c.quote(FieldRaster))
	if err := db.Raw(lookup, abs).Scan(&existing).Error; err != nil {
		return AddResult{}, fmt.Errorf("look up raster: %w", err)
	}
	if len(existing) > 0 {
		return AddResult{ID: existing[0], Duplicate: true}, nil
	}

	name := src.Name
	if name == "" {
		base := filepath.Base(abs)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	var shape, length, area any
	if src.Footprint != nil {
		shape = wkt.MarshalString(src.Footprint)
		length = planar.Length(src.Footprint)
		area = planar.Area(src.Footprint)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?) RETURNING %s",
		c.quote(c.name),
		c.quote(FieldName), c.quote(FieldRaster), c.quote(FieldShape),
		c.quote(FieldShapeLength), c.quote(FieldShapeArea),
		c.quote(FieldObjectID))
	var id int64
	if err := db.Raw(insert, name, abs, shape, length, area).Scan(&id).Error; err != nil {
		return AddResult{}, fmt.Errorf("insert raster %s: %w", abs, err)
	}
	if id == 0 {
		return AddResult{}, fmt.Errorf("insert raster %s: no row id returned", abs)
	}
	return AddResult{ID: id}, nil
}

// attributes the catalog manages itself
var reservedAttrs = map[string]bool{
	strings.ToLower(FieldName):        true,
	strings.ToLower(FieldShape):       true,
	strings.ToLower(FieldShapeLength): true,
	strings.ToLower(FieldShapeArea):   true,
	strings.ToLower(FieldObjectID):    true,
	strings.ToLower(FieldRaster):      true,
}

// CopyAttributes writes the service attributes of one item onto row rowID in
// a single update. The service object id goes to OOID; DATE columns take
// epoch milliseconds and are stored as UTC timestamps. Attributes without a
// catalog column are skipped.
func (c *Catalog) CopyAttributes(ctx context.Context, rowID int64, attrs map[string]any, oidField string) error {
	set, err := c.attributeSet(ctx, attrs, oidField)
	if err != nil {
		return err
	}
	return c.updateRow(c.db.WithContext(ctx), rowID, set)
}

func (c *Catalog) attributeSet(ctx context.Context, attrs map[string]any, oidField string) (map[string]any, error) {
	cols, err := c.loadColumns(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		key := strings.ToLower(k)
		if strings.EqualFold(k, oidField) {
			if oid, ok := imagesvc.Int64(v); ok {
				if col, ok := cols[strings.ToLower(FieldOriginalID)]; ok {
					set[col.Name] = oid
				}
			}
			continue
		}
		if reservedAttrs[key] {
			continue
		}
		col, ok := cols[key]
		if !ok {
			c.logger.Debug("attribute has no catalog column", "attribute", k)
			continue
		}
		val, err := convertValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadAttribute, k, err)
		}
		set[col.Name] = val
	}
	return set, nil
}

func (c *Catalog) updateRow(db *gorm.DB, rowID int64, set map[string]any) error {
	if len(set) == 0 {
		return nil
	}
	res := db.Table(c.name).
		Where(c.quote(FieldObjectID)+" = ?", rowID).
		Updates(set)
	if res.Error != nil {
		return fmt.Errorf("update row %d: %w", rowID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	return nil
}

func convertValue(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeDate:
		ms, ok := imagesvc.Int64(v)
		if !ok {
			if s, isStr := v.(string); isStr {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					return ts.UTC(), nil
				}
			}
			return nil, fmt.Errorf("date value %v is not epoch milliseconds", v)
		}
		return EpochMillisToTime(ms), nil
	case TypeLong, TypeShort:
		if n, ok := imagesvc.Int64(v); ok {
			return n, nil
		}
	case TypeDouble, TypeFloat:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	return v, nil
}

// Row is one catalog row keyed by column name.
type Row map[string]any

// Rows returns every row in insertion order.
func (c *Catalog) Rows(ctx context.Context) ([]Row, error) {
	var out []map[string]any
	err := c.db.WithContext(ctx).
		Table(c.name).
		Order(c.quote(FieldObjectID)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	rows := make([]Row, len(out))
	for i, r := range out {
		rows[i] = r
	}
	return rows, nil
}

func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Table(c.name).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// FieldInfo describes one registered catalog field.
type FieldInfo struct {
	Name     string
	Type     FieldType
	EsriType string
	Alias    string
	Length   int
	Domain   string
}

func (c *Catalog) Fields(ctx context.Context) ([]FieldInfo, error) {
	var recs []fieldRecord
	err := c.db.WithContext(ctx).
		Where("catalog = ?", c.name).
		Order("position, id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("read fields: %w", err)
	}
	out := make([]FieldInfo, len(recs))
	for i, r := range recs {
		out[i] = FieldInfo{
			Name:     r.Name,
			Type:     FieldType(r.Type),
			EsriType: r.EsriType,
			Alias:    r.Alias,
			Length:   r.Length,
			Domain:   r.Domain,
		}
	}
	return out, nil
}

// CodedValues returns a domain's (code, label) pairs in their original
// order, or gorm.ErrRecordNotFound when the domain does not exist.
func (c *Catalog) CodedValues(ctx context.Context, domain string) ([][2]string, error) {
	db := c.db.WithContext(ctx)
	var d domainRecord
	if err := db.First(&d, "name = ?", domain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read domain %s: %w", domain, err)
	}
	var recs []codedValueRecord
	if err := db.Where("domain = ?", domain).Order("position").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read coded values of %s: %w", domain, err)
	}
	out := make([][2]string, len(recs))
	for i, r := range recs {
		out[i] = [2]string{r.Code, r.Label}
	}
	return out, nil
}
