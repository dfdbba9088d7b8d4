package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/relationsync/relationsync/cmd/util"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper
// flags.
func bindRunFlags(flags *pflag.FlagSet) {
	util.MustBindPFlag("stateFile", flags.Lookup("state-file"))
	util.MustBindEnv("stateFile", "RELATIONSYNC_STATE_FILE")

	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "RELATIONSYNC_DATASTORE_ENGINE")

	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "RELATIONSYNC_DATASTORE_URI")

	util.MustBindPFlag("datastore.metricsEnabled", flags.Lookup("datastore-metrics-enabled"))
	util.MustBindEnv("datastore.metricsEnabled", "RELATIONSYNC_DATASTORE_METRICS_ENABLED")

	util.MustBindPFlag("store.engine", flags.Lookup("store-engine"))
	util.MustBindEnv("store.engine", "RELATIONSYNC_STORE_ENGINE")

	util.MustBindPFlag("store.addr", flags.Lookup("store-addr"))
	util.MustBindEnv("store.addr", "RELATIONSYNC_STORE_ADDR")

	util.MustBindPFlag("store.token", flags.Lookup("store-token"))
	util.MustBindEnv("store.token", "RELATIONSYNC_STORE_TOKEN")

	util.MustBindPFlag("store.callTimeout", flags.Lookup("store-call-timeout"))
	util.MustBindEnv("store.callTimeout", "RELATIONSYNC_STORE_CALL_TIMEOUT")

	util.MustBindPFlag("sync.maxConcurrent", flags.Lookup("sync-max-concurrent"))
	util.MustBindEnv("sync.maxConcurrent", "RELATIONSYNC_SYNC_MAX_CONCURRENT")

	util.MustBindPFlag("sync.maxTuplesPerWrite", flags.Lookup("sync-max-tuples-per-write"))
	util.MustBindEnv("sync.maxTuplesPerWrite", "RELATIONSYNC_SYNC_MAX_TUPLES_PER_WRITE")

	util.MustBindPFlag("sync.maxRetries", flags.Lookup("sync-max-retries"))
	util.MustBindEnv("sync.maxRetries", "RELATIONSYNC_SYNC_MAX_RETRIES")

	util.MustBindPFlag("reconcile.interval", flags.Lookup("reconcile-interval"))
	util.MustBindEnv("reconcile.interval", "RELATIONSYNC_RECONCILE_INTERVAL")

	util.MustBindPFlag("reconcile.parallelism", flags.Lookup("reconcile-parallelism"))
	util.MustBindEnv("reconcile.parallelism", "RELATIONSYNC_RECONCILE_PARALLELISM")

	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "RELATIONSYNC_LOG_FORMAT")

	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "RELATIONSYNC_LOG_LEVEL")

	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "RELATIONSYNC_METRICS_ENABLED")

	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "RELATIONSYNC_METRICS_ADDR")

	util.MustBindPFlag("admin.addr", flags.Lookup("admin-addr"))
	util.MustBindEnv("admin.addr", "RELATIONSYNC_ADMIN_ADDR")
}

func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		bindRunFlags(flags)
	}
}
