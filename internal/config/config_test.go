package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "mab", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "mab-alarm", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "https://fcm.googleapis.com", cfg.Push.BaseURL)

	assert.Equal(t, "topic/+/alarm", cfg.Alarm.Topic)
	assert.True(t, cfg.Alarm.DeviceIndex.Enabled)
	assert.Equal(t, "mab:device-owner:", cfg.Alarm.DeviceIndex.KeyPrefix)
	assert.Equal(t, 3600, cfg.Alarm.DeviceIndex.TTL)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("MQTT_BROKER", "ssl://broker.example.com:8883")
	os.Setenv("MQTT_USERNAME", "mab")
	os.Setenv("PUSH_BASE_URL", "https://push.example.com")
	os.Setenv("ALARM_TOPIC", "custom/+/alarm")
	os.Setenv("DEVICE_INDEX_ENABLED", "false")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "ssl://broker.example.com:8883", cfg.MQTT.Broker)
	assert.Equal(t, "mab", cfg.MQTT.Username)
	assert.Equal(t, "https://push.example.com", cfg.Push.BaseURL)
	assert.Equal(t, "custom/+/alarm", cfg.Alarm.Topic)
	assert.False(t, cfg.Alarm.DeviceIndex.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestGetEnvInt_InvalidValueFallsBack(t *testing.T) {
	os.Setenv("DB_PORT", "not-a-number")
	defer os.Unsetenv("DB_PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}
