package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/porter/pkg/compression"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
	"github.com/ajitpratap0/porter/pkg/testutil"
)

type fileToFileSuite struct {
	testutil.IntegrationTestSuite
}

func TestFileToFile(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(fileToFileSuite))
}

func (s *fileToFileSuite) TestCSVPartitionsToJSONLines() {
	dataDir := filepath.Join(s.TempDir(), "data", "sales")
	s.Require().NoError(os.MkdirAll(dataDir, 0o755))
	testutil.CreateTestData(s.T(), dataDir, "sales", 3, 4)

	pipelinePath := s.CreateTempFile("pipeline.yaml", []byte(`
name: sales_to_lake
source:
  name: landing
  source_type: file
  args:
    root: data
    format: csv
datasets:
  - name: sales
    file_path: sales
    file_type: csv
    is_partitioned: true
    file_prefix: sales_
    file_suffix: .csv
    columns:
      - name: id
      - name: value
        target_name: amount
targets:
  - name: lake
    target_type: file
    mode: overwrite
    args:
      root: lake
      format: json
      compression: gzip
`))

	p, err := models.LoadPipeline(pipelinePath, schema.Default())
	s.Require().NoError(err)

	opts := testOptions(s.T())
	opts.StagingCompression = "s2"
	for run := 0; run < 2; run++ {
		result, err := NewRunner(p, opts, WithLogger(testutil.TestLogger(s.T()))).Run(s.Context())
		s.Require().NoError(err)
		s.Equal(int64(12), result.Summary.Read["sales"])
		s.Equal(int64(12), result.Summary.Written["lake/sales"])
	}

	parts, err := filepath.Glob(filepath.Join(s.TempDir(), "lake", "sales", "part-*.json.gz"))
	s.Require().NoError(err)
	s.Len(parts, 1, "overwrite replaces the previous run's part")

	f, err := os.Open(parts[0])
	s.Require().NoError(err)
	defer f.Close()
	zr, err := compression.NewReader(f, compression.Gzip)
	s.Require().NoError(err)
	defer zr.Close()

	dec := json.NewDecoder(zr)
	count := 0
	for dec.More() {
		var rec map[string]any
		s.Require().NoError(dec.Decode(&rec))
		s.Len(rec, 2)
		s.Contains(rec, "id")
		s.Contains(rec, "amount")
		count++
	}
	s.Equal(12, count)
}
