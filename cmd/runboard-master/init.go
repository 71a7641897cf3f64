package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/runboard-ai/runboard/internal/config"
)

var v *viper.Viper

// viperKeyDelimiter separates nested configuration keys. ".." instead of the
// default "." keeps keys that themselves contain dots from being split into
// nested objects.
const viperKeyDelimiter = ".."

//nolint:gochecknoinit
func init() {
	registerConfig()
}

type configKey []string

func (c configKey) EnvName() string {
	return "RUNBOARD_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerConfig() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()

	flags := rootCmd.Flags()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	registerString(flags, name("log-level"),
		defaults.LogLevel, "choose logging level from [trace, debug, info, warn, error, fatal]")

	registerInt(flags, name("port"),
		defaults.Port, "server port")
	registerString(flags, name("id-salt"),
		defaults.IDSalt, "salt for external run id tokens")

	registerString(flags, name("db", "user"),
		defaults.DB.User, "database username")
	registerString(flags, name("db", "password"),
		defaults.DB.Password, "database password")
	registerString(flags, name("db", "host"),
		defaults.DB.Host, "database host")
	registerString(flags, name("db", "port"),
		defaults.DB.Port, "database port")
	registerString(flags, name("db", "name"),
		defaults.DB.Name, "database name")
	registerString(flags, name("db", "ssl-mode"),
		defaults.DB.SSLMode, "database ssl mode (disable, verify-ca, ...)")
	registerString(flags, name("db", "ssl-root-cert"),
		defaults.DB.SSLRootCert, "database ssl root cert path")

	registerString(flags, name("clickhouse", "addr"),
		defaults.ClickHouse.Addr, "clickhouse address")
	registerString(flags, name("clickhouse", "database"),
		defaults.ClickHouse.Database, "clickhouse database name")
	registerString(flags, name("clickhouse", "user"),
		defaults.ClickHouse.User, "clickhouse username")
	registerString(flags, name("clickhouse", "password"),
		defaults.ClickHouse.Password, "clickhouse password")

	registerString(flags, name("redis", "addr"),
		defaults.Redis.Addr, "redis address (empty disables the result cache)")
	registerString(flags, name("redis", "password"),
		defaults.Redis.Password, "redis password")
	registerInt(flags, name("redis", "db"),
		defaults.Redis.DB, "redis database index")
	registerInt(flags, name("redis", "ttl-seconds"),
		defaults.Redis.TTLSeconds, "result cache entry lifetime in seconds")
}
