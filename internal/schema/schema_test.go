package schema

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/johndauphine/db-search-replace/internal/driver/sqlite"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		typeName string
		want     KeyKind
	}{
		// Numeric family
		{"int", KeyNumeric},
		{"INT(11) UNSIGNED", KeyNumeric},
		{"bigint(20) unsigned", KeyNumeric},
		{"tinyint(1)", KeyNumeric},
		{"mediumint", KeyNumeric},
		{"bit", KeyNumeric},
		{"decimal(10,2)", KeyNumeric},
		{"NUMERIC", KeyNumeric},
		{"double", KeyNumeric},
		{"double precision", KeyNumeric},
		{"real", KeyNumeric},
		{"float", KeyNumeric},
		{"int4", KeyNumeric},
		{"int8", KeyNumeric},
		{"INTEGER", KeyNumeric},

		// Binary family
		{"binary(16)", KeyBinary},
		{"VARBINARY(255)", KeyBinary},
		{"bytea", KeyBinary},
		{"blob", KeyBinary},
		{"longblob", KeyBinary},
		{"UNIQUEIDENTIFIER", KeyBinary},

		// Everything else
		{"varchar(191)", KeyOpaque},
		{"char(36)", KeyOpaque},
		{"text", KeyOpaque},
		{"uuid", KeyOpaque},
		{"datetime", KeyOpaque},
		{"character varying", KeyOpaque},
		{"", KeyOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			if got := Classify(tt.typeName); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.typeName, got, tt.want)
			}
		})
	}
}

func TestFromColumnsOrdersKeyByPosition(t *testing.T) {
	def := FromColumns([]driver.ColumnInfo{
		{Name: "meta_value", DataType: "longtext"},
		{Name: "site_id", DataType: "bigint", KeyPosition: 2},
		{Name: "blog_key", DataType: "varbinary(16)", KeyPosition: 1},
	})

	if !def.HasPrimaryKey() {
		t.Fatal("expected primary key")
	}
	if len(def.KeyOrder) != 2 || def.KeyOrder[0] != "blog_key" || def.KeyOrder[1] != "site_id" {
		t.Errorf("KeyOrder = %v, want [blog_key site_id]", def.KeyOrder)
	}
	if def.PrimaryKeys["blog_key"] != KeyBinary {
		t.Errorf("blog_key kind = %s, want binary", def.PrimaryKeys["blog_key"])
	}
	if def.PrimaryKeys["site_id"] != KeyNumeric {
		t.Errorf("site_id kind = %s, want numeric", def.PrimaryKeys["site_id"])
	}
	if def.IsPrimaryKey("meta_value") {
		t.Error("meta_value should not be a key column")
	}
	if err := def.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromColumnsWithoutKey(t *testing.T) {
	def := FromColumns([]driver.ColumnInfo{{Name: "a", DataType: "text"}, {Name: "b", DataType: "text"}})
	if def.HasPrimaryKey() {
		t.Error("expected no primary key")
	}
	if names := def.ColumnNames(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ColumnNames = %v", names)
	}
	if err := def.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsInconsistentDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  TableDefinition
	}{
		{"no columns", TableDefinition{}},
		{
			"key order without kind",
			TableDefinition{
				Columns:  []ColumnDefinition{{Name: "id", IsPrimaryKey: true}},
				KeyOrder: []string{"id"},
			},
		},
		{
			"unknown kind",
			TableDefinition{
				Columns:     []ColumnDefinition{{Name: "id", IsPrimaryKey: true}},
				PrimaryKeys: map[string]KeyKind{"id": "weird"},
				KeyOrder:    []string{"id"},
			},
		},
		{
			"flag missing",
			TableDefinition{
				Columns:     []ColumnDefinition{{Name: "id"}},
				PrimaryKeys: map[string]KeyKind{"id": KeyNumeric},
				KeyOrder:    []string{"id"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.def.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIntrospectSQLite(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE wp_sitemeta (
		site_id INTEGER NOT NULL,
		meta_key VARCHAR(255) NOT NULL,
		meta_value TEXT,
		PRIMARY KEY (site_id, meta_key)
	)`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := NewIntrospector(db, &sqlite.Driver{}, "")
	def, err := in.Introspect(context.Background(), "wp_sitemeta")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}

	if len(def.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(def.Columns))
	}
	if len(def.KeyOrder) != 2 || def.KeyOrder[0] != "site_id" || def.KeyOrder[1] != "meta_key" {
		t.Errorf("KeyOrder = %v", def.KeyOrder)
	}
	if def.PrimaryKeys["site_id"] != KeyNumeric || def.PrimaryKeys["meta_key"] != KeyOpaque {
		t.Errorf("PrimaryKeys = %v", def.PrimaryKeys)
	}

	if _, err := in.Introspect(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing table")
	}
}
