// Package catalog is the output raster catalog: one table of ingested
// rasters plus registry tables describing its fields, coded-value domains
// and spatial reference. It runs on SQLite or PostgreSQL through gorm.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

const (
	FieldObjectID    = "OBJECTID"
	FieldName        = "Name"
	FieldRaster      = "Raster"
	FieldShape       = "Shape"
	FieldShapeLength = "Shape_Length"
	FieldShapeArea   = "Shape_Area"
	FieldOriginalID  = "OOID"

	// DefaultFileName is used when the sqlite catalog path is a directory.
	DefaultFileName = "catalog.db"
)

var (
	ErrCatalogExists = errors.New("catalog: already exists and overwrite is disabled")
	ErrInvalidName   = errors.New("catalog: invalid catalog name")
	ErrUnknownDriver = errors.New("catalog: unknown driver")
	ErrRowNotFound   = errors.New("catalog: row not found")
	ErrNotFound      = errors.New("catalog: no such catalog")
	ErrBadAttribute  = errors.New("catalog: attribute value rejected")
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// ValidName reports whether name can be used as a catalog table name: a
// letter followed by up to 62 letters, digits or underscores.
func ValidName(name string) bool { return nameRe.MatchString(name) }

type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// Path is the sqlite database file or directory, or a postgres DSN.
	Path             string
	Name             string
	SpatialReference geometry.SpatialReference
	Overwrite        bool
}

// registry rows

type catalogRecord struct {
	Name       string `gorm:"primaryKey;size:63"`
	WKID       int
	LatestWKID int
	WKT        string
	CreatedAt  time.Time
}

func (catalogRecord) TableName() string { return "gdb_catalogs" }

type fieldRecord struct {
	ID       uint   `gorm:"primaryKey"`
	Catalog  string `gorm:"size:63;uniqueIndex:idx_gdb_field"`
	Name     string `gorm:"size:128;uniqueIndex:idx_gdb_field"`
	Type     string `gorm:"size:16"`
	EsriType string `gorm:"size:64"`
	Alias    string
	Length   int
	Domain   string `gorm:"size:128"`
	Position int
}

func (fieldRecord) TableName() string { return "gdb_fields" }

type domainRecord struct {
	Name      string `gorm:"primaryKey;size:128"`
	FieldType string `gorm:"size:16"`
	CreatedAt time.Time
}

func (domainRecord) TableName() string { return "gdb_domains" }

type codedValueRecord struct {
	ID       uint   `gorm:"primaryKey"`
	Domain   string `gorm:"size:128;uniqueIndex:idx_gdb_code"`
	Code     string `gorm:"size:255;uniqueIndex:idx_gdb_code"`
	Label    string
	Position int
}

func (codedValueRecord) TableName() string { return "gdb_coded_values" }

type column struct {
	Name string
	Type FieldType
}

// Catalog is safe for sequential use by one run; the column cache is
// guarded for the ops server's read-only status calls.
type Catalog struct {
	logger  *slog.Logger
	db      *gorm.DB
	name    string
	dialect string

	mu      sync.Mutex
	columns map[string]column // lower-case name -> column
}

// Open connects to the database and creates the catalog table and its
// registry entries. An existing catalog of the same name is dropped when
// Overwrite is set and rejected otherwise.
func Open(ctx context.Context, log *slog.Logger, opts Options) (*Catalog, error) {
	db, err := connect(opts)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		logger:  log,
		db:      db,
		name:    opts.Name,
		dialect: db.Dialector.Name(),
	}
	if err := c.create(ctx, opts); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Attach opens an existing catalog without touching its schema.
func Attach(ctx context.Context, log *slog.Logger, opts Options) (*Catalog, error) {
	db, err := connect(opts)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		logger:  log,
		db:      db,
		name:    opts.Name,
		dialect: db.Dialector.Name(),
	}
	if !c.db.WithContext(ctx).Migrator().HasTable(c.name) {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.name)
	}
	return c, nil
}

func connect(opts Options) (*gorm.DB, error) {
	if !ValidName(opts.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, opts.Name)
	}

	var dial gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		file, err := databaseFile(opts.Path)
		if err != nil {
			return nil, err
		}
		dial = sqlite.Open(file)
	case "postgres":
		dial = postgres.Open(opts.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	return db, nil
}

func databaseFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("catalog: database path is required")
	}
	if st, err := os.Stat(path); (err == nil && st.IsDir()) || (err != nil && filepath.Ext(path) == "") {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return "", fmt.Errorf("create catalog dir: %w", err)
		}
		return filepath.Join(path, DefaultFileName), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create catalog dir: %w", err)
	}
	return path, nil
}

func (c *Catalog) create(ctx context.Context, opts Options) error {
	db := c.db.WithContext(ctx)
	if err := db.AutoMigrate(&catalogRecord{}, &fieldRecord{}, &domainRecord{}, &codedValueRecord{}); err != nil {
		return fmt.Errorf("migrate catalog registry: %w", err)
	}

	if db.Migrator().HasTable(c.name) {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %s", ErrCatalogExists, c.name)
		}
		c.logger.Info("overwriting existing catalog", "catalog", c.name)
		if err := db.Exec("DROP TABLE IF EXISTS " + c.quote(c.name)).Error; err != nil {
			return fmt.Errorf("drop catalog %s: %w", c.name, err)
		}
	}

	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if c.dialect == "postgres" {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s %s, %s %s, %s %s NOT NULL UNIQUE, %s %s, %s %s, %s %s)",
		c.quote(c.name),
		c.quote(FieldObjectID), pk,
		c.quote(FieldName), sqlType(c.dialect, TypeText, 0),
		c.quote(FieldRaster), sqlType(c.dialect, TypeText, 0),
		c.quote(FieldShape), sqlType(c.dialect, TypeText, 0),
		c.quote(FieldShapeLength), sqlType(c.dialect, TypeDouble, 0),
		c.quote(FieldShapeArea), sqlType(c.dialect, TypeDouble, 0),
	)

	builtins := []fieldRecord{
		{Name: FieldObjectID, Type: string(TypeLong), EsriType: "esriFieldTypeOID"},
		{Name: FieldName, Type: string(TypeText), EsriType: "esriFieldTypeString"},
		{Name: FieldRaster, Type: string(TypeText), EsriType: "esriFieldTypeRaster"},
		{Name: FieldShape, Type: string(TypeText), EsriType: "esriFieldTypeGeometry"},
		{Name: FieldShapeLength, Type: string(TypeDouble), EsriType: "esriFieldTypeDouble"},
		{Name: FieldShapeArea, Type: string(TypeDouble), EsriType: "esriFieldTypeDouble"},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(ddl).Error; err != nil {
			return fmt.Errorf("create catalog %s: %w", c.name, err)
		}
		if err := tx.Where("catalog = ?", c.name).Delete(&fieldRecord{}).Error; err != nil {
			return fmt.Errorf("reset field registry: %w", err)
		}
		for i := range builtins {
			builtins[i].Catalog = c.name
			builtins[i].Alias = builtins[i].Name
			builtins[i].Position = i
		}
		if err := tx.Create(&builtins).Error; err != nil {
			return fmt.Errorf("register built-in fields: %w", err)
		}
		rec := catalogRecord{
			Name:       c.name,
			WKID:       opts.SpatialReference.WKID,
			LatestWKID: opts.SpatialReference.LatestWKID,
			WKT:        opts.SpatialReference.WKT,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("register catalog: %w", err)
		}
		return nil
	})
}

func (c *Catalog) Name() string { return c.name }

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("catalog db handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return nil
}

// SpatialReference returns what the catalog was created with.
func (c *Catalog) SpatialReference(ctx context.Context) (geometry.SpatialReference, error) {
	var rec catalogRecord
	if err := c.db.WithContext(ctx).First(&rec, "name = ?", c.name).Error; err != nil {
		return geometry.SpatialReference{}, fmt.Errorf("load catalog record: %w", err)
	}
	return geometry.SpatialReference{WKID: rec.WKID, LatestWKID: rec.LatestWKID, WKT: rec.WKT}, nil
}

func (c *Catalog) quote(ident string) string {
	return c.db.Statement.Quote(ident)
}

// loadColumns reads the live table columns joined with the registry types.
func (c *Catalog) loadColumns(ctx context.Context) (map[string]column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.columns != nil {
		return c.columns, nil
	}

	db := c.db.WithContext(ctx)
	types, err := db.Migrator().ColumnTypes(c.name)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", c.name, err)
	}
	var recs []fieldRecord
	if err := db.Where("catalog = ?", c.name).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read field registry: %w", err)
	}
	registered := make(map[string]FieldType, len(recs))
	for _, r := range recs {
		registered[strings.ToLower(r.Name)] = FieldType(r.Type)
	}

	cols := make(map[string]column, len(types))
	for _, ct := range types {
		key := strings.ToLower(ct.Name())
		t, ok := registered[key]
		if !ok {
			t = TypeText
		}
		cols[key] = column{Name: ct.Name(), Type: t}
	}
	c.columns = cols
	return cols, nil
}

func (c *Catalog) invalidateColumns() {
	c.mu.Lock()
	c.columns = nil
	c.mu.Unlock()
}
