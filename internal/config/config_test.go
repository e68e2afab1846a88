package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/pitchside/internal/config"
	"github.com/okian/pitchside/internal/domain/model"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.NotificationQueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.NotificationWorkers, convey.ShouldEqual, 4)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.LivenessTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.MaxClockSkew(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.MonitorIdleTimeout(), convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("A SQL driver without a database url is invalid", func() {
			cfg.StoreDriver = config.DriverPostgres
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "database_url")

			cfg.DatabaseURL = "postgres://localhost/pitchside"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("An unknown driver is invalid", func() {
			cfg.StoreDriver = "mongo"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Only text and json log formats are accepted", func() {
			cfg.LogFormat = "json"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			cfg.LogFormat = "logfmt"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Sizes and timeouts must be positive", func() {
			cfg.NotificationWorkers = 0
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "notification_workers")
		})

		convey.Convey("Seeded trackers need unique ids", func() {
			cfg.Trackers = []model.Profile{{ID: "t1"}, {ID: "t1"}}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			cfg.Trackers = []model.Profile{{ID: " "}}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
