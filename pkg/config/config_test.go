package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ORIGIN_TEST_KEY", "sk-test")

	assert.Equal(t, "key: sk-test", ExpandEnv("key: ${ORIGIN_TEST_KEY}"))
	assert.Equal(t, "key: fallback", ExpandEnv("key: ${ORIGIN_TEST_MISSING:-fallback}"))
	assert.Equal(t, "key: ", ExpandEnv("key: ${ORIGIN_TEST_MISSING}"))
	assert.Equal(t, "no refs here", ExpandEnv("no refs here"))
}

func TestLoad(t *testing.T) {
	t.Setenv("ORIGIN_TEST_API_KEY", "sk-abc")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: test
llms:
  default:
    provider: openai
    model: deepseek-chat
    api_key: ${ORIGIN_TEST_API_KEY}
database:
  driver: sqlite
  database: test.db
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, "default", cfg.DefaultLLM)
	assert.Equal(t, "sk-abc", cfg.LLMs["default"].APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLMs["default"].BaseURL)
	assert.Equal(t, 25, cfg.Agent.MaxToolCalls)
	assert.Equal(t, 3, cfg.Agent.DoomLoopThreshold)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsMissingLLM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestAgentConfigDefaults(t *testing.T) {
	cfg := &AgentConfig{}
	cfg.SetDefaults()

	assert.True(t, cfg.IsWriteTool("delete_note"))
	assert.True(t, cfg.IsWriteTool("set_note_category"))
	assert.False(t, cfg.IsWriteTool("search_knowledge"))
	assert.NotEmpty(t, cfg.StatusLabel("update_note"))
	assert.Contains(t, cfg.StatusLabel("unknown_tool"), "unknown_tool")
	assert.Equal(t, 8000, cfg.NoteContentCap)
	assert.Equal(t, 12000, cfg.AttachmentCap)
}

func TestDatabaseDSN(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Username: "u", Password: "p", Database: "origin"}
	pg.SetDefaults()
	assert.Contains(t, pg.DSN(), "host=db port=5432")
	assert.Contains(t, pg.DSN(), "sslmode=disable")

	my := &DatabaseConfig{Driver: "mysql", Host: "db", Username: "u", Password: "p", Database: "origin"}
	my.SetDefaults()
	assert.Contains(t, my.DSN(), "tcp(db:3306)")

	lite := &DatabaseConfig{Driver: "sqlite", Database: "origin.db"}
	lite.SetDefaults()
	assert.Equal(t, "origin.db", lite.DSN())
}

func TestDatabaseValidate(t *testing.T) {
	assert.Error(t, (&DatabaseConfig{}).Validate())
	assert.Error(t, (&DatabaseConfig{Driver: "oracle", Database: "x"}).Validate())
	assert.Error(t, (&DatabaseConfig{Driver: "postgres", Database: "x"}).Validate())
	assert.NoError(t, (&DatabaseConfig{Driver: "sqlite", Database: "x"}).Validate())
}
