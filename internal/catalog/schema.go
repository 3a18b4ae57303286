package catalog

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mohammed-shakir/clipship/internal/imagesvc"
)

// service field kinds that never become catalog columns
var skippedEsriTypes = map[string]bool{
	"esriFieldTypeOID":      true,
	"esriFieldTypeGeometry": true,
	"esriFieldTypeRaster":   true,
}

// ReconcileSchema adds every service field the catalog lacks, creating and
// binding coded-value domains on the way, then makes sure the original-id
// field exists. It returns the names it added; a second call adds nothing.
func (c *Catalog) ReconcileSchema(ctx context.Context, fields []imagesvc.Field) ([]string, error) {
	cols, err := c.loadColumns(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(cols))
	for k := range cols {
		existing[k] = true
	}

	var added []string
	for _, f := range fields {
		key := strings.ToLower(f.Name)
		if f.Name == "" || existing[key] || skippedEsriTypes[f.Type] {
			continue
		}
		if strings.EqualFold(f.Name, FieldRaster) || strings.EqualFold(f.Name, FieldObjectID) {
			continue
		}
		if err := c.addField(ctx, f, len(existing)); err != nil {
			return added, err
		}
		existing[key] = true
		added = append(added, f.Name)
		c.logger.Debug("field added", "field", f.Name, "type", MapEsriType(f.Type), "domain", domainName(f.Domain))
	}

	if !existing[strings.ToLower(FieldOriginalID)] {
		oid := imagesvc.Field{Name: FieldOriginalID, Type: "esriFieldTypeInteger", Alias: "Original OBJECTID"}
		if err := c.addField(ctx, oid, len(existing)); err != nil {
			return added, err
		}
		added = append(added, FieldOriginalID)
	}

	if len(added) > 0 {
		c.invalidateColumns()
		c.logger.Info("catalog schema reconciled", "catalog", c.name, "added", len(added))
	}
	return added, nil
}

// addField runs column, domain and registry changes for one field in a
// single transaction. The domain and its values are written before the
// field record that references it.
func (c *Catalog) addField(ctx context.Context, f imagesvc.Field, position int) error {
	ft := MapEsriType(f.Type)
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		c.quote(c.name), c.quote(f.Name), sqlType(c.dialect, ft, f.Length))

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(alter).Error; err != nil {
			return fmt.Errorf("add column %s: %w", f.Name, err)
		}

		bound := ""
		if f.Domain.IsCoded() {
			if err := ensureDomain(tx, f.Domain, ft); err != nil {
				return err
			}
			bound = f.Domain.Name
		}

		alias := f.Alias
		if alias == "" {
			alias = f.Name
		}
		rec := fieldRecord{
			Catalog:  c.name,
			Name:     f.Name,
			Type:     string(ft),
			EsriType: f.Type,
			Alias:    alias,
			Length:   f.Length,
			Domain:   bound,
			Position: position,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("register field %s: %w", f.Name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconcile field %s: %w", f.Name, err)
	}
	return nil
}

// ensureDomain creates the domain when absent and inserts any coded values
// it does not have yet. Existing labels are kept.
func ensureDomain(tx *gorm.DB, d *imagesvc.Domain, ft FieldType) error {
	rec := domainRecord{Name: d.Name, FieldType: string(ft)}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("create domain %s: %w", d.Name, err)
	}
	if len(d.CodedValues) == 0 {
		return nil
	}
	values := make([]codedValueRecord, 0, len(d.CodedValues))
	for i, cv := range d.CodedValues {
		values = append(values, codedValueRecord{
			Domain:   d.Name,
			Code:     fmt.Sprint(cv.Code),
			Label:    cv.Name,
			Position: i,
		})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&values).Error; err != nil {
		return fmt.Errorf("add coded values to %s: %w", d.Name, err)
	}
	return nil
}

func domainName(d *imagesvc.Domain) string {
	if d == nil {
		return ""
	}
	return d.Name
}
