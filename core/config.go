package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName      string
		Env          string // DEV (local; default), TEST, QA, PROD
		Build        string
		Debug        bool
		TestMode     bool
		SecretKey    string
		RollbarToken string

		Server      ServerConfig
		Database    DatabaseConfig
		Redis       RedisConfig
		Presence    PresenceConfig
		Credentials CredentialsConfig
		Developer   DeveloperConfig
	}

	ServerConfig struct {
		Host                   string
		Address                string
		DebugAddress           string
		ReadTimeout            time.Duration
		WriteTimeout           time.Duration
		ShutdownTimeout        time.Duration
		SessionExpirationDelta time.Duration
		AllowedOrigins         []string
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
		Channel  string
	}

	PresenceConfig struct {
		OnlineThreshold time.Duration
		SweepInterval   time.Duration
		SweepCutoff     time.Duration
		SweepTimeout    time.Duration
		TimeZone        string
	}

	CredentialsConfig struct {
		MaxGenerateAttempts int
	}

	DeveloperConfig struct {
		AutoApprove bool
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

// Location returns the time zone used to display presence timestamps.
func (p PresenceConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(conf *viper.Viper) {
	conf.SetTypeByDefaultValue(true)

	conf.SetDefault("appName", "Classboard")
	conf.SetDefault("build", "develop")
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugAddress", ":4000")
	conf.SetDefault("server.readTimeout", 5*time.Second)
	conf.SetDefault("server.writeTimeout", 5*time.Second)
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.sessionExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.allowedOrigins", []string{"*"})

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "classboard")
	conf.SetDefault("database.user", "classboard")
	conf.SetDefault("database.password", "classboard")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("database.maxOpenConns", 20)

	conf.SetDefault("redis.address", "")
	conf.SetDefault("redis.password", "")
	conf.SetDefault("redis.db", 0)
	conf.SetDefault("redis.channel", "classboard:events")

	conf.SetDefault("presence.onlineThreshold", 30*time.Second)
	conf.SetDefault("presence.sweepInterval", 60*time.Second)
	conf.SetDefault("presence.sweepCutoff", 15*time.Second)
	conf.SetDefault("presence.sweepTimeout", 10*time.Second)
	conf.SetDefault("presence.timeZone", "UTC")

	conf.SetDefault("credentials.maxGenerateAttempts", 10)

	conf.SetDefault("developer.autoApprove", true)
}

// NewConfig loads the configuration from defaults, an optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the env name, eg. DEV_DATABASE_HOST.
func NewConfig() *Config {
	conf := viper.New()
	setDefaults(conf)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return fromViper(conf, env)
}

func fromViper(conf *viper.Viper, env string) *Config {
	return &Config{
		AppName:      conf.GetString("appName"),
		Env:          env,
		Build:        conf.GetString("build"),
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		SecretKey:    conf.GetString("secretKey"),
		RollbarToken: conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                   conf.GetString("server.host"),
			Address:                conf.GetString("server.address"),
			DebugAddress:           conf.GetString("server.debugAddress"),
			ReadTimeout:            conf.GetDuration("server.readTimeout"),
			WriteTimeout:           conf.GetDuration("server.writeTimeout"),
			ShutdownTimeout:        conf.GetDuration("server.shutdownTimeout"),
			SessionExpirationDelta: conf.GetDuration("server.sessionExpirationDelta"),
			AllowedOrigins:         conf.GetStringSlice("server.allowedOrigins"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
			MaxOpenConns:  conf.GetInt("database.maxOpenConns"),
		},
		Redis: RedisConfig{
			Address:  conf.GetString("redis.address"),
			Password: conf.GetString("redis.password"),
			DB:       conf.GetInt("redis.db"),
			Channel:  conf.GetString("redis.channel"),
		},
		Presence: PresenceConfig{
			OnlineThreshold: conf.GetDuration("presence.onlineThreshold"),
			SweepInterval:   conf.GetDuration("presence.sweepInterval"),
			SweepCutoff:     conf.GetDuration("presence.sweepCutoff"),
			SweepTimeout:    conf.GetDuration("presence.sweepTimeout"),
			TimeZone:        conf.GetString("presence.timeZone"),
		},
		Credentials: CredentialsConfig{
			MaxGenerateAttempts: conf.GetInt("credentials.maxGenerateAttempts"),
		},
		Developer: DeveloperConfig{
			AutoApprove: conf.GetBool("developer.autoApprove"),
		},
	}
}

// NewTestConfig returns the default configuration in test mode, without reading the environment.
func NewTestConfig() *Config {
	conf := viper.New()
	setDefaults(conf)
	conf.Set("testMode", true)
	conf.Set("database.engine", "memory")
	return fromViper(conf, "TEST")
}
