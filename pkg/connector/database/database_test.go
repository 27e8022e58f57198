package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

func TestBindNamed(t *testing.T) {
	binds := map[string]any{"start": "2024-01-01", "region": "eu"}

	tests := []struct {
		name   string
		driver string
		query  string
		want   string
		args   []any
	}{
		{
			name:   "postgres reuses numbered placeholders",
			driver: "postgres",
			query:  "SELECT * FROM t WHERE d >= :start AND r = :region AND d2 >= :start",
			want:   "SELECT * FROM t WHERE d >= $1 AND r = $2 AND d2 >= $1",
			args:   []any{"2024-01-01", "eu"},
		},
		{
			name:   "mysql repeats question marks",
			driver: "mysql",
			query:  "SELECT * FROM t WHERE d >= :start AND d2 >= :start",
			want:   "SELECT * FROM t WHERE d >= ? AND d2 >= ?",
			args:   []any{"2024-01-01", "2024-01-01"},
		},
		{
			name:   "casts and literals untouched",
			driver: "postgres",
			query:  "SELECT ':nope', x::date FROM t WHERE r = :region",
			want:   "SELECT ':nope', x::date FROM t WHERE r = $1",
			args:   []any{"eu"},
		},
		{
			name:   "no placeholders",
			driver: "snowflake",
			query:  "SELECT 1",
			want:   "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := dialectFor(tt.driver)
			require.NoError(t, err)
			got, args, err := bindNamed(tt.query, binds, d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestBindNamedMissing(t *testing.T) {
	d, _ := dialectFor("postgres")
	_, _, err := bindNamed("SELECT :b, :a, :b", map[string]any{}, d)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "no value to bind for a, b")
}

func TestQuote(t *testing.T) {
	pg, _ := dialectFor("postgres")
	my, _ := dialectFor("MySQL")
	sf, _ := dialectFor("snowflake")

	assert.Equal(t, `"public"."orders"`, pg.quote("public.orders"))
	assert.Equal(t, `"we""ird"`, pg.quote(`we"ird`))
	assert.Equal(t, "`shop`.`orders`", my.quote("shop.orders"))
	assert.Equal(t, "PUBLIC.ORDERS", sf.quote("PUBLIC.ORDERS"))

	_, err := dialectFor("oracle")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	pg, _ := dialectFor("postgres")
	dsn, err := pg.dsn(&Args{Username: "etl", Password: "p@ss", Hostname: "db", Database: "shop", Schema: "sales"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://etl:p%40ss@db:5432/shop?search_path=sales", dsn)

	my, _ := dialectFor("mysql")
	dsn, err = my.dsn(&Args{Username: "etl", Password: "pw", Hostname: "db", Port: 3307, Database: "shop"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "etl:pw@tcp(db:3307)/shop"), dsn)
	assert.Contains(t, dsn, "parseTime=true")

	dsn, err = my.dsn(&Args{DSN: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", dsn)
}

func TestArgsValidate(t *testing.T) {
	variant := schema.VariantOf(schema.KindSource, "database")

	tests := []struct {
		name    string
		raw     map[string]any
		wantErr string
	}{
		{"hostname", map[string]any{"driver": "postgres", "database": "shop", "hostname": "db"}, ""},
		{"dsn", map[string]any{"driver": "mysql", "database": "shop", "dsn": "u@tcp(db)/shop"}, ""},
		{"snowflake account", map[string]any{"driver": "snowflake", "database": "shop", "account": "acme"}, ""},
		{"no location", map[string]any{"driver": "postgres", "database": "shop"}, "one of dsn or hostname is required"},
		{"bad driver", map[string]any{"driver": "oracle", "database": "shop"}, "driver must be one of"},
		{"missing required", map[string]any{"hostname": "db"}, "missing required args: driver, database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := schema.Validate(variant, tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			a := args.(*Args)
			assert.Equal(t, 1000, a.BatchSize)
			assert.Equal(t, 4, a.MaxOpenConns)
		})
	}
}

func TestInsertStatement(t *testing.T) {
	plan := models.WritePlan{TargetName: "sales.orders", Mode: models.LoadModeAppend}
	cols := []string{"amount", "id"}

	pg, err := NewWithDB("pg", "postgres", nil)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "sales"."orders" ("amount", "id") VALUES ($1, $2), ($3, $4)`,
		pg.insertStatement(plan, cols, 2))

	pg.args.UpsertKeys = []string{"id"}
	plan.Mode = models.LoadModeUpsert
	assert.Equal(t,
		`INSERT INTO "sales"."orders" ("amount", "id") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "amount" = EXCLUDED."amount"`,
		pg.insertStatement(plan, cols, 1))

	my, err := NewWithDB("my", "mysql", nil)
	require.NoError(t, err)
	my.args.UpsertKeys = []string{"id"}
	assert.Equal(t,
		"INSERT INTO `sales`.`orders` (`amount`, `id`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `amount` = VALUES(`amount`)",
		my.insertStatement(plan, cols, 1))
}

func TestSQLValue(t *testing.T) {
	assert.Equal(t, int64(42), sqlValue(json.Number("42")))
	assert.Equal(t, 1.5, sqlValue(json.Number("1.5")))
	assert.Equal(t, `{"a":1}`, sqlValue(map[string]any{"a": 1}))
	assert.Equal(t, `[1,"x"]`, sqlValue([]any{1, "x"}))
	assert.Equal(t, "plain", sqlValue("plain"))
	assert.Nil(t, sqlValue(nil))
}

// execRecorder is a database/sql driver that records the bind count of
// every statement it executes.
type execRecorder struct {
	binds []int
}

func (r *execRecorder) Open(string) (driver.Conn, error) { return recorderConn{r}, nil }
func (r *execRecorder) Connect(context.Context) (driver.Conn, error) { return recorderConn{r}, nil }
func (r *execRecorder) Driver() driver.Driver { return r }

type recorderConn struct{ r *execRecorder }

func (recorderConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported")
}
func (recorderConn) Close() error { return nil }
func (recorderConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

func (c recorderConn) ExecContext(_ context.Context, _ string, args []driver.NamedValue) (driver.Result, error) {
	c.r.binds = append(c.r.binds, len(args))
	return driver.RowsAffected(0), nil
}

func TestWideUpsertStaysUnderPlaceholderLimit(t *testing.T) {
	const cols, rows = 100, 1000
	records := make([]core.Record, rows)
	for i := range records {
		rec := core.Record{}
		for c := 0; c < cols; c++ {
			rec[fmt.Sprintf("c%03d", c)] = int64(i)
		}
		records[i] = rec
	}

	for _, driverName := range []string{"postgres", "mysql"} {
		t.Run(driverName, func(t *testing.T) {
			rec := &execRecorder{}
			db := sql.OpenDB(rec)
			defer db.Close()
			c, err := NewWithDB("wide", driverName, db)
			require.NoError(t, err)
			c.args.UpsertKeys = []string{"c000"}

			plan := models.WritePlan{Target: "wide", Dataset: "events", TargetName: "events", Mode: models.LoadModeUpsert}
			n, err := c.Write(context.Background(), core.WriteRequest{Plan: plan}, core.NewSliceReader(records))
			require.NoError(t, err)
			assert.Equal(t, int64(rows), n)

			require.Len(t, rec.binds, 2)
			assert.Equal(t, []int{655 * cols, 345 * cols}, rec.binds)
			for _, b := range rec.binds {
				assert.LessOrEqual(t, b, maxPlaceholders)
			}
		})
	}
}

func TestBatchLimit(t *testing.T) {
	pg, err := NewWithDB("pg", "postgres", nil)
	require.NoError(t, err)
	upsert := models.WritePlan{Mode: models.LoadModeUpsert}
	appendPlan := models.WritePlan{Mode: models.LoadModeAppend}

	assert.Equal(t, 1000, pg.batchLimit(upsert, 10))
	assert.Equal(t, 655, pg.batchLimit(upsert, 100))
	assert.Equal(t, 1000, pg.batchLimit(appendPlan, 100), "COPY has no bind parameters")

	my, err := NewWithDB("my", "mysql", nil)
	require.NoError(t, err)
	assert.Equal(t, 655, my.batchLimit(appendPlan, 100))
	assert.Equal(t, 1, my.batchLimit(appendPlan, 70000))
}
