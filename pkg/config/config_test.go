package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("dataset-indexer")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Indexer.PageSize)
	assert.Positive(t, cfg.Indexer.Workers)
	assert.Equal(t, "dataset", cfg.Elasticsearch.Alias)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, 60*time.Second, cfg.Elasticsearch.BulkTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "dataset-indexer.yaml"), []byte(`
indexer:
  page_size: 250
  workers: 3
  job_timeout: 2m
elasticsearch:
  alias: datasets
  bulk_timeout: 5s
`), 0o644))

	t.Setenv("REGISTRY_ELASTICSEARCH_HOSTS", "http://es1:9200, http://es2:9200")
	t.Setenv("REGISTRY_SOURCE_URL", "https://registry.example.org/v1")
	t.Setenv("REGISTRY_INDEXER_WORKERS", "6")

	cfg, err := Load("dataset-indexer")
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Indexer.PageSize)
	assert.Equal(t, 6, cfg.Indexer.Workers)
	assert.Equal(t, "datasets", cfg.Elasticsearch.Alias)
	assert.Equal(t, 5*time.Second, cfg.Elasticsearch.BulkTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Indexer.JobTimeout)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "https://registry.example.org/v1", cfg.Source.URL)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REGISTRY_INDEXER_PAGE_SIZE", "0")

	_, err := Load("dataset-indexer")
	assert.Error(t, err)
}

func TestLoad_JobTimeoutMustExceedBulkTimeout(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REGISTRY_INDEXER_JOB_TIMEOUT", "30s")

	_, err := Load("dataset-indexer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexer.job_timeout")
}

func TestValidate_JobTimeout(t *testing.T) {
	cfg := &Config{
		Indexer:       IndexerConfig{PageSize: 100, Workers: 2},
		Elasticsearch: ElasticsearchConfig{Alias: "dataset", IndexPrefix: "dataset", BulkTimeout: time.Minute},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Indexer.JobTimeout = time.Minute
	assert.Error(t, cfg.Validate())

	cfg.Indexer.JobTimeout = 2 * time.Minute
	assert.NoError(t, cfg.Validate())

	cfg.Indexer.JobTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,, b ,"))
	assert.Empty(t, SplitList(""))
}

func TestToCircuitBreakerConfig(t *testing.T) {
	cfg := BreakerConfig{FailureRatio: 0.8, OpenTimeout: time.Minute}.ToCircuitBreakerConfig("registry")

	assert.Equal(t, "registry", cfg.Name)
	assert.Equal(t, 0.8, cfg.FailureRatio)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}
