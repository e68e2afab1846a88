package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/pitchside/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
				convey.So(cfg.NotificationWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PITCHSIDE_ADDR", ":8080")
			_ = os.Setenv("PITCHSIDE_NOTIFICATION_QUEUE_SIZE", "100")
			_ = os.Setenv("PITCHSIDE_NOTIFICATION_WORKERS", "16")
			_ = os.Setenv("PITCHSIDE_LIVENESS_TIMEOUT_MS", "15000")
			_ = os.Setenv("PITCHSIDE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.NotificationQueueSize, convey.ShouldEqual, 100)
				convey.So(cfg.NotificationWorkers, convey.ShouldEqual, 16)
				convey.So(cfg.LivenessTimeoutMS, convey.ShouldEqual, 15000)
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble,
					[]string{"https://a.example.com", "https://b.example.com"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			yamlContent := `
# trackers seeded at startup
addr: ":9090"
store_driver: sqlite
database_url: "file:pitchside.db"
notification_workers: 8
channel_buffer_size: 64
trackers:
  - id: t1
    email: alice@example.com
    full_name: Alice
    role: tracker
  - id: t2
    email: bob@example.com
    role: tracker
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PITCHSIDE_CONFIG", tmpFile)

			convey.Convey("Then it should load from the file", func() {
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.DatabaseURL, convey.ShouldEqual, "file:pitchside.db")
				convey.So(cfg.NotificationWorkers, convey.ShouldEqual, 8)
				convey.So(cfg.ChannelBufferSize, convey.ShouldEqual, 64)
				convey.So(cfg.NotificationQueueSize, convey.ShouldEqual, 1024)
				convey.So(len(cfg.Trackers), convey.ShouldEqual, 2)
				convey.So(cfg.Trackers[0].Email, convey.ShouldEqual, "alice@example.com")
				convey.So(cfg.Trackers[1].Role, convey.ShouldEqual, "tracker")
			})

			convey.Convey("Then environment variables override file values", func() {
				_ = os.Setenv("PITCHSIDE_ADDR", ":8080")
				_ = os.Setenv("PITCHSIDE_NOTIFICATION_WORKERS", "32")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.NotificationWorkers, convey.ShouldEqual, 32)
				convey.So(cfg.ChannelBufferSize, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("PITCHSIDE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PITCHSIDE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("PITCHSIDE_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a SQL driver has no database url", func() {
			_ = os.Setenv("PITCHSIDE_STORE_DRIVER", "postgres")

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("PITCHSIDE_NOTIFICATION_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with negative values", func() {
			_ = os.Setenv("PITCHSIDE_DEDUPE_SIZE", "-200")

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects them", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "dedupe_size")
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"PITCHSIDE_CONFIG",
		"PITCHSIDE_ADDR",
		"PITCHSIDE_STORE_DRIVER",
		"PITCHSIDE_NOTIFICATION_QUEUE_SIZE",
		"PITCHSIDE_NOTIFICATION_WORKERS",
		"PITCHSIDE_DEDUPE_SIZE",
		"PITCHSIDE_LIVENESS_TIMEOUT_MS",
		"PITCHSIDE_CORS_ALLOWED_ORIGINS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "pitchside-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
