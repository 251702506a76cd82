package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/hive.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/hive.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "claude-sonnet-4", cfg.Model.Default)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "hive.json")

		testConfig := `{
			"ai": {
				"profiles": [
					{"id": "main", "provider": "anthropic", "api_key": "sk-ant-test", "priority": 1}
				]
			},
			"model": {"default": "claude-opus-4"},
			"webhook": {"enabled": true, "port": 4040}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-test", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "claude-opus-4", cfg.Model.Default)
		assert.Equal(t, 4040, cfg.Webhook.Port)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "hive.json")

		testConfig := `{"data_dir": "` + tmpDir + `"}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "hived.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Session.Path)
		assert.Equal(t, filepath.Join(tmpDir, "triggers", "routes.json"), cfg.Webhook.RegistryPath)
		assert.Equal(t, filepath.Join(tmpDir, "schedule", "jobs.json"), cfg.Schedule.StorePath)
	})

	t.Run("sqlite store gets a db path", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "hive.json")

		testConfig := `{"data_dir": "` + tmpDir + `", "session": {"store": "sqlite"}}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "sessions.db"), cfg.Session.Path)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "hive.json")

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Model.Default = "gpt-4"
	cfg.AI.Profiles = []AIProfile{
		{ID: "main", Provider: "openai", APIKey: "sk-test", Priority: 1},
	}

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	reloaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", reloaded.Model.Default)
	require.Len(t, reloaded.AI.Profiles, 1)
	assert.Equal(t, "openai", reloaded.AI.Profiles[0].Provider)
}

func TestGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		loader := NewLoader("/custom/hive.json")
		assert.Equal(t, "/custom/hive.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.Contains(t, path, filepath.Join(".hive", "hive.json"))
	})
}

func TestConversationsDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/hive"
	assert.Equal(t, filepath.Join("/data/hive", "conversations"), cfg.ConversationsDir())
}
