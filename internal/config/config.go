package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Listen      string   `koanf:"listen"`
	Timezone    string   `koanf:"timezone"`
	Source      Calendar `koanf:"source"`
	Destination Calendar `koanf:"destination"`
	Here        Here     `koanf:"here"`
	Transit     Transit  `koanf:"transit"`
	Schedule    Schedule `koanf:"schedule"`
	Database    Database `koanf:"db"`
}

// Calendar holds CalDAV connection settings for one calendar collection.
type Calendar struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type Here struct {
	APIKey string `koanf:"apikey"`
}

type Transit struct {
	HomeAddress     string `koanf:"homeaddress"`
	Mode            string `koanf:"mode"`
	MaxHours        int    `koanf:"maxhours"`
	LookForwardDays int    `koanf:"lookforwarddays"`
}

type Schedule struct {
	CheckIntervalMinutes int    `koanf:"checkintervalminutes"`
	DailyUpdateTime      string `koanf:"dailyupdatetime"`
}

type Database struct {
	Path string `koanf:"path"`
}

var validModes = map[string]bool{
	"transit": true,
	"driving": true,
	"walking": true,
	"cycling": true,
}

func Load(path string) (Application, error) {
	// Optional .env file for local development. Missing file is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env file")
	}

	var k = koanf.New(".")

	err := k.Load(structs.Provider(Application{
		Listen:   ":8181",
		Timezone: "UTC",
		Transit: Transit{
			Mode:            "transit",
			MaxHours:        3,
			LookForwardDays: 28,
		},
		Schedule: Schedule{
			CheckIntervalMinutes: 15,
			DailyUpdateTime:      "01:00",
		},
		Database: Database{
			Path: "./data/transit-calendar.sqlite",
		},
	}, "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "TRANSIT_",
		TransformFunc: func(k, v string) (string, any) {
			// Transform the key.
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "TRANSIT_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	if err := app.Validate(); err != nil {
		return Application{}, err
	}

	return app, nil
}

// Validate checks that everything required for a sync cycle is present
// before the scheduler starts firing.
func (a Application) Validate() error {
	if a.Source.URL == "" {
		return fmt.Errorf("source calendar URL is required")
	}
	if a.Destination.URL == "" {
		return fmt.Errorf("destination calendar URL is required")
	}
	if a.Here.APIKey == "" {
		return fmt.Errorf("HERE API key is required")
	}
	if a.Transit.HomeAddress == "" {
		return fmt.Errorf("home address is required")
	}
	if !validModes[a.Transit.Mode] {
		return fmt.Errorf("unsupported transit mode %q", a.Transit.Mode)
	}
	if a.Transit.MaxHours <= 0 {
		return fmt.Errorf("max transit hours must be positive")
	}
	if a.Transit.LookForwardDays <= 0 {
		return fmt.Errorf("look forward days must be positive")
	}
	if a.Schedule.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("check interval must be positive")
	}
	if _, _, err := a.Schedule.DailyUpdateAt(); err != nil {
		return err
	}
	if _, err := a.Location(); err != nil {
		return err
	}
	return nil
}

// DailyUpdateAt parses the configured "HH:MM" daily update time.
func (s Schedule) DailyUpdateAt() (hour int, minute int, err error) {
	t, err := time.Parse("15:04", s.DailyUpdateTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily update time %q: %w", s.DailyUpdateTime, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Location resolves the configured timezone. Calendar days are bounded in
// this location.
func (a Application) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// MaxTransitDuration returns the longest leg that will still be planned.
func (a Application) MaxTransitDuration() time.Duration {
	return time.Duration(a.Transit.MaxHours) * time.Hour
}

// CheckInterval returns how often the frequent reconciliation check runs.
func (a Application) CheckInterval() time.Duration {
	return time.Duration(a.Schedule.CheckIntervalMinutes) * time.Minute
}
