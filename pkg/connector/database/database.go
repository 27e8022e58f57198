// Package database implements the database source and target over
// database/sql. Postgres goes through the pgx driver and bulk loads with
// COPY; MySQL and Snowflake use batched INSERT statements.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// Args are the args of source.database and target.database.
type Args struct {
	Driver   string `yaml:"driver" required:"true"`
	Database string `yaml:"database" required:"true"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	Schema   string `yaml:"schema"`
	DSN      string `yaml:"dsn"`

	// Snowflake only
	Account   string `yaml:"account"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`

	Options        map[string]string `yaml:"options"`
	MaxOpenConns   int               `yaml:"max_open_conns" default:"4"`
	BatchSize      int               `yaml:"batch_size" default:"1000"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout" default:"30s"`
	// UpsertKeys are the conflict columns used by upsert mode
	UpsertKeys []string `yaml:"upsert_keys"`
}

// Validate checks the driver and that the server can be located.
func (a *Args) Validate() error {
	d, err := dialectFor(a.Driver)
	if err != nil {
		return fmt.Errorf("driver must be one of postgres, mysql, snowflake, got %q", a.Driver)
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if a.DSN != "" {
		return nil
	}
	if d.name == "snowflake" && a.Account == "" {
		return fmt.Errorf("one of dsn or account is required")
	}
	if d.name != "snowflake" && a.Hostname == "" {
		return fmt.Errorf("one of dsn or hostname is required")
	}
	return nil
}

func init() {
	registry.MustRegister(schema.VariantOf(schema.KindSource, string(models.SourceTypeDatabase)), Args{}, New,
		"Reads tables and queries from Postgres, MySQL or Snowflake")
	registry.MustRegister(schema.VariantOf(schema.KindTarget, string(models.TargetTypeDatabase)), Args{}, New,
		"Loads tables in Postgres, MySQL or Snowflake")
}

// Connector talks to one database.
type Connector struct {
	name    string
	args    *Args
	dialect dialect
	db      *sql.DB
	logger  *zap.Logger
}

// New creates a database connector from validated args.
func New(cfg registry.Config) (core.Connector, error) {
	args, err := schema.As[Args](cfg.Args)
	if err != nil {
		return nil, err
	}
	d, err := dialectFor(args.Driver)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:    cfg.Name,
		args:    args,
		dialect: d,
		logger:  logger.With(zap.String("connector", cfg.Name), zap.String("driver", d.name)),
	}, nil
}

// NewWithDB creates a connector over an open handle.
func NewWithDB(name, driver string, db *sql.DB) (*Connector, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:    name,
		args:    &Args{Driver: driver, BatchSize: 1000},
		dialect: d,
		db:      db,
		logger:  logger.With(zap.String("connector", name)),
	}, nil
}

func (c *Connector) Name() string { return c.name }

// Connect opens the pool and pings the server.
func (c *Connector) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	dsn, err := c.dialect.dsn(c.args)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to build connection string")
	}
	db, err := sql.Open(c.dialect.driverName, dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database")
	}
	db.SetMaxOpenConns(c.args.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, c.args.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to %s", c.dialect.name))
	}

	c.db = db
	c.logger.Info("connected")
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Connector) connected() error {
	if c.db == nil {
		return errors.New(errors.ErrorTypeConnection, fmt.Sprintf("database connector %q is not connected", c.name))
	}
	return nil
}

// readQuery returns the query of a table dataset.
func (c *Connector) readQuery(d *models.Dataset) (string, error) {
	if d.Query != "" {
		return d.Query, nil
	}
	if d.Table != "" {
		return "SELECT * FROM " + c.dialect.quote(d.Table), nil
	}
	return "", errors.New(errors.ErrorTypeValidation,
		fmt.Sprintf("dataset %q has neither query nor table", d.Name))
}

// Read streams the dataset's rows into out.
func (c *Connector) Read(ctx context.Context, req core.ReadRequest, out core.RecordWriter) error {
	if err := c.connected(); err != nil {
		return err
	}
	query, err := c.readQuery(req.Dataset)
	if err != nil {
		return err
	}
	return c.query(ctx, query, req.Binds, func(rec core.Record) error {
		return out.Write(ctx, rec)
	})
}

// Execute runs query and returns every row.
func (c *Connector) Execute(ctx context.Context, query string, binds map[string]any) ([]core.Record, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	var out []core.Record
	err := c.query(ctx, query, binds, func(rec core.Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (c *Connector) query(ctx context.Context, query string, binds map[string]any, fn func(core.Record) error) error {
	stmt, args, err := bindNamed(query, binds, c.dialect)
	if err != nil {
		return err
	}
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to read columns")
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
		}
		rec := make(core.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "row iteration failed")
	}
	return nil
}

// Exists checks information_schema for table datasets and looks for at
// least one row for query datasets.
func (c *Connector) Exists(ctx context.Context, d *models.Dataset) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}
	if d.Query == "" && d.Table != "" {
		schemaName, table := splitTable(d.Table)
		query := "SELECT 1 FROM information_schema.tables WHERE UPPER(table_name) = UPPER(:table)"
		binds := map[string]any{"table": table}
		if schemaName != "" {
			query += " AND UPPER(table_schema) = UPPER(:schema)"
			binds["schema"] = schemaName
		}
		rows, err := c.Execute(ctx, query, binds)
		return len(rows) > 0, err
	}

	query, err := c.readQuery(d)
	if err != nil {
		return false, err
	}
	rows, err := c.Execute(ctx, "SELECT 1 FROM ("+query+") porter_exists LIMIT 1", d.BindValues(nil))
	return len(rows) > 0, err
}

func splitTable(table string) (string, string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// Write loads records into the plan's target table. The column set is
// taken from the first record.
func (c *Connector) Write(ctx context.Context, req core.WriteRequest, in core.RecordReader) (int64, error) {
	if err := c.connected(); err != nil {
		return 0, err
	}
	plan := req.Plan
	if plan.Mode == models.LoadModeUpsert && (c.dialect.name == "snowflake" || len(c.args.UpsertKeys) == 0) {
		return 0, errors.New(errors.ErrorTypeCapability,
			fmt.Sprintf("upsert into %s needs upsert_keys and a postgres or mysql target", plan.TargetName))
	}

	if plan.Mode == models.LoadModeOverwrite || plan.Truncate {
		if _, err := c.db.ExecContext(ctx, "TRUNCATE TABLE "+c.dialect.quote(plan.TargetName)); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to truncate "+plan.TargetName)
		}
	}

	var (
		total   int64
		columns []string
		batch   [][]any
		limit   int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.load(ctx, plan, columns, batch)
		total += n
		batch = batch[:0]
		return err
	}

	for {
		rec, err := in.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		if columns == nil {
			columns = sortedKeys(rec)
			limit = c.batchLimit(plan, len(columns))
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = sqlValue(rec[col])
		}
		batch = append(batch, row)
		if len(batch) >= limit {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	c.logger.Info("dataset loaded",
		zap.String("dataset", plan.Dataset),
		zap.String("table", plan.TargetName),
		zap.String("mode", string(plan.Mode)),
		zap.Int64("records", total))
	return total, nil
}

// maxPlaceholders is the bind parameter limit of a single Postgres or
// MySQL statement.
const maxPlaceholders = 65535

// batchLimit is the number of rows flushed per statement. Statements built
// from placeholders hold at most maxPlaceholders values.
func (c *Connector) batchLimit(plan models.WritePlan, columns int) int {
	limit := c.args.BatchSize
	if columns == 0 || (c.dialect.name == "postgres" && plan.Mode != models.LoadModeUpsert) {
		return limit
	}
	if most := maxPlaceholders / columns; most < limit {
		limit = max(most, 1)
	}
	return limit
}

func (c *Connector) load(ctx context.Context, plan models.WritePlan, columns []string, rows [][]any) (int64, error) {
	if c.dialect.name == "postgres" && plan.Mode != models.LoadModeUpsert {
		return c.copyFrom(ctx, plan.TargetName, columns, rows)
	}

	stmt := c.insertStatement(plan, columns, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for _, r := range rows {
		args = append(args, r...)
	}
	res, err := c.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert into "+plan.TargetName)
	}
	n, _ := res.RowsAffected()
	if n > int64(len(rows)) || n == 0 {
		n = int64(len(rows))
	}
	return n, nil
}

// copyFrom bulk loads through the pgx connection underneath database/sql.
func (c *Connector) copyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	defer conn.Close()

	var n int64
	err = conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		schemaName, name := splitTable(table)
		ident := pgx.Identifier{name}
		if schemaName != "" {
			ident = pgx.Identifier{schemaName, name}
		}
		n, err = pc.Conn().CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeQuery, "failed to copy into "+table)
	}
	return n, nil
}

// insertStatement builds a multi-row INSERT, with the dialect's conflict
// clause in upsert mode.
func (c *Connector) insertStatement(plan models.WritePlan, columns []string, rows int) string {
	d := c.dialect
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.quote(plan.TargetName))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(d.quoteAll(columns), ", "))
	sb.WriteString(") VALUES ")

	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			n++
			sb.WriteString(d.placeholder(n))
		}
		sb.WriteByte(')')
	}

	if plan.Mode != models.LoadModeUpsert {
		return sb.String()
	}

	keys := map[string]bool{}
	for _, k := range c.args.UpsertKeys {
		keys[k] = true
	}
	var updates []string
	for _, col := range columns {
		if keys[col] {
			continue
		}
		q := d.quote(col)
		if d.name == "postgres" {
			updates = append(updates, q+" = EXCLUDED."+q)
		} else {
			updates = append(updates, q+" = VALUES("+q+")")
		}
	}

	if d.name == "postgres" {
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(d.quoteAll(c.args.UpsertKeys), ", "))
		if len(updates) == 0 {
			sb.WriteString(") DO NOTHING")
		} else {
			sb.WriteString(") DO UPDATE SET ")
			sb.WriteString(strings.Join(updates, ", "))
		}
		return sb.String()
	}
	if len(updates) > 0 {
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		sb.WriteString(strings.Join(updates, ", "))
	}
	return sb.String()
}

// sqlValue converts decoded JSON values into driver values. Numbers become
// int64 or float64, nested values are stored as their JSON text.
func sqlValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return v
	}
}

func sortedKeys(rec core.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
