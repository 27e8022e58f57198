package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides base functionality for integration tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "porter-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	duration := time.Since(s.startTime)
	s.T().Logf("Integration test suite completed in %v", duration)
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile creates a file with content under the temp directory,
// creating parent directories as needed
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.T(), os.WriteFile(path, content, 0o644))
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// CreateTestData writes numFiles CSV files of recordsPerFile rows into dir
// and returns their paths. Columns are id, name and value.
func CreateTestData(t *testing.T, dir string, prefix string, numFiles int, recordsPerFile int) []string {
	t.Helper()

	var files []string
	for i := 0; i < numFiles; i++ {
		filename := filepath.Join(dir, fmt.Sprintf("%s_%d.csv", prefix, i))
		file, err := os.Create(filename)
		require.NoError(t, err)

		_, err = file.WriteString("id,name,value\n")
		require.NoError(t, err)

		for j := 0; j < recordsPerFile; j++ {
			_, err = fmt.Fprintf(file, "%d,Record_%d_%d,%.2f\n", i*recordsPerFile+j, i, j, float64(j)*1.25)
			require.NoError(t, err)
		}

		require.NoError(t, file.Close())
		files = append(files, filename)
	}
	return files
}
