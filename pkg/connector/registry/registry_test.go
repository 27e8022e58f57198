package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

type memArgs struct {
	Path  string `yaml:"path" required:"true"`
	Limit int    `yaml:"limit"`
}

type memConn struct {
	name string
	args *memArgs
}

func (m *memConn) Name() string                         { return m.name }
func (m *memConn) Connect(ctx context.Context) error    { return nil }
func (m *memConn) Disconnect(ctx context.Context) error { return nil }

func newMem(cfg Config) (core.Connector, error) {
	args, err := schema.As[memArgs](cfg.Args)
	if err != nil {
		return nil, err
	}
	return &memConn{name: cfg.Name, args: args}, nil
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry(schema.NewRegistry())
	variant := schema.VariantOf(schema.KindSource, "mem")

	require.NoError(t, r.Register(variant, memArgs{}, newMem, "in-memory test source"))
	assert.True(t, r.Has(variant))
	assert.Error(t, r.Register(variant, memArgs{}, newMem, ""), "duplicate registration")
	assert.Error(t, r.Register("source.nil", nil, nil, ""), "nil factory")

	args, err := r.Schemas().Validate(variant, map[string]any{"path": "/tmp/x", "limit": "5"})
	require.NoError(t, err)

	conn, err := r.Create(variant, Config{Name: "mem1", Args: args})
	require.NoError(t, err)
	assert.Equal(t, "mem1", conn.Name())
	assert.Equal(t, 5, conn.(*memConn).args.Limit)
}

func TestCreateErrors(t *testing.T) {
	r := NewRegistry(schema.NewRegistry())
	r.MustRegister("source.mem", memArgs{}, newMem, "")

	_, err := r.Create("source.unknown", Config{Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	// args of the wrong schema type
	_, err = r.Create("source.mem", Config{Name: "x", Args: &schema.Empty{}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), `failed to create connector source.mem for "x"`)
}

func TestCreateSourceFromConfig(t *testing.T) {
	r := NewRegistry(schema.NewRegistry())
	r.MustRegister("source.file", memArgs{}, newMem, "")

	src, err := models.NewSourceConfig(r.Schemas(), models.SourceConfig{
		ConnectorConfig: models.ConnectorConfig{
			Name:    "local",
			RawArgs: map[string]any{"path": "data"},
		},
		SourceType: models.SourceTypeFile,
	})
	require.NoError(t, err)

	conn, err := r.CreateSource(src, "/pipelines")
	require.NoError(t, err)
	assert.Equal(t, "data", conn.(*memConn).args.Path)
}

func TestList(t *testing.T) {
	r := NewRegistry(schema.NewRegistry())
	r.MustRegister("target.mem", memArgs{}, newMem, "sink")
	r.MustRegister("source.mem", memArgs{}, newMem, "reader")

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, schema.Variant("source.mem"), infos[0].Variant)
	assert.Equal(t, "source", infos[0].Kind)
	assert.Equal(t, "mem", infos[0].Type)
	assert.Equal(t, "reader", infos[0].Description)
	assert.Equal(t, []string{"path*", "limit"}, infos[0].Args)
}

func TestMustRegisterPanics(t *testing.T) {
	r := NewRegistry(schema.NewRegistry())
	r.MustRegister("source.mem", memArgs{}, newMem, "")
	assert.Panics(t, func() { r.MustRegister("source.mem", memArgs{}, newMem, "") })
}
