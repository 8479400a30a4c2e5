package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cloudrotate/rotate-backups/cmd/internal/rotate"
	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"
	"github.com/cloudrotate/rotate-backups/cmd/internal/storage/gcs"
	"github.com/cloudrotate/rotate-backups/cmd/internal/storage/local"
	"github.com/cloudrotate/rotate-backups/cmd/internal/storage/s3"
	"github.com/cloudrotate/rotate-backups/cmd/internal/utils"
	"github.com/cloudrotate/rotate-backups/pkg/rotation"

	cron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	moduleName  = "rotate-backups"
	cfgFileType = "yaml"

	// Flags
	logLevelFlg = "log-level"

	storageFlg = "storage"

	hourlyFlg  = "hourly"
	dailyFlg   = "daily"
	weeklyFlg  = "weekly"
	monthlyFlg = "monthly"
	yearlyFlg  = "yearly"

	includeFlg       = "include"
	excludeFlg       = "exclude"
	dryRunFlg        = "dry-run"
	referenceTimeFlg = "reference-time"

	objectPrefixFlg = "object-prefix"

	s3EndpointFlg  = "s3-endpoint"
	s3RegionFlg    = "s3-region"
	s3AccessKeyFlg = "s3-access-key"
	//nolint
	s3SecretKeyFlg = "s3-secret-key"
	s3PathStyleFlg = "s3-path-style"

	gcsProjectFlg = "gcs-project"

	scheduleFlg = "schedule"

	bucketsCfgKey = "buckets"
)

var (
	cfgFile string
	logger  *slog.Logger
	stop    context.Context
)

var rootCmd = &cobra.Command{
	Use:          moduleName,
	Short:        "time-bucketed rotation of timestamped backups in object storage",
	Long: "rotate-backups classifies the timestamped backups in one or more buckets " +
		"into hourly/daily/weekly/monthly/yearly periods and deletes every backup " +
		"not covered by the configured retention scheme. Test a new scheme with " +
		"--dry-run before letting it loose on precious backups.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()
		return initLogging()
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate [flags] CONTAINER...",
	Short: "rotates the backups in the given containers",
	Long: "rotates the backups in the given buckets or directories. Containers are " +
		"processed independently, a failure in one does not keep the others from " +
		"being rotated. When no containers are given the buckets from the " +
		"configuration file are used.",
	PreRun: func(cmd *cobra.Command, args []string) {
		initSignalHandlers()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, err := resolveContainers(args)
		if err != nil {
			return err
		}
		return rotateContainers(stop, containers)
	},
}

var listCmd = &cobra.Command{
	Use:   "list [flags] CONTAINER...",
	Short: "shows the computed keep/delete partition without deleting anything",
	PreRun: func(cmd *cobra.Command, args []string) {
		initSignalHandlers()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, err := resolveContainers(args)
		if err != nil {
			return err
		}

		for _, c := range containers {
			rotator, err := newRotator(stop, c)
			if err != nil {
				return err
			}

			plan, err := rotator.Plan(stop)
			if err != nil {
				return err
			}

			var data [][]string
			for _, b := range plan.Backups {
				decision, reasons := "delete", ""
				if r := plan.Preserved.Reasons(b); r != nil {
					decision = "preserve"
					reasons = frequencyList(r)
				}
				data = append(data, []string{b.Timestamp.Format(time.RFC3339), b.Pathname, decision, reasons})
			}

			p := utils.NewTablePrinter(os.Stdout)
			p.Print([]string{"Date", "Name", "Decision", "Matches"}, data)
		}

		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [flags] CONTAINER...",
	Short: "rotates the given containers periodically on a cron schedule",
	PreRun: func(cmd *cobra.Command, args []string) {
		initSignalHandlers()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, err := resolveContainers(args)
		if err != nil {
			return err
		}

		c := cron.New()

		id, err := c.AddFunc(viper.GetString(scheduleFlg), func() {
			if err := rotateContainers(stop, containers); err != nil {
				logger.Error("rotation run failed", "error", err)
			}
			for _, e := range c.Entries() {
				logger.Info("scheduling next rotation", "at", e.Next.String())
			}
		})
		if err != nil {
			return err
		}

		c.Start()
		logger.Info("scheduling next rotation", "at", c.Entry(id).Next.String())
		<-stop.Done()
		c.Stop()
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			panic(err)
		}
		logger.Error("failed executing root command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(rotateCmd, listCmd, watchCmd)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringP(logLevelFlg, "v", "info", "sets the application log level")

	rootCmd.PersistentFlags().StringP(storageFlg, "", "s3", "the storage backend holding the backups [s3|gcs|local]")

	rootCmd.PersistentFlags().StringP(hourlyFlg, "H", "", "number of hourly backups to preserve, or \"always\"")
	rootCmd.PersistentFlags().StringP(dailyFlg, "d", "", "number of daily backups to preserve, or \"always\"")
	rootCmd.PersistentFlags().StringP(weeklyFlg, "w", "", "number of weekly backups to preserve, or \"always\"")
	rootCmd.PersistentFlags().StringP(monthlyFlg, "m", "", "number of monthly backups to preserve, or \"always\"")
	rootCmd.PersistentFlags().StringP(yearlyFlg, "y", "", "number of yearly backups to preserve, or \"always\"")

	rootCmd.PersistentFlags().StringSliceP(includeFlg, "I", nil, "only process backups matching these shell patterns")
	rootCmd.PersistentFlags().StringSliceP(excludeFlg, "x", nil, "never process backups matching these shell patterns, wins over --include")
	rootCmd.PersistentFlags().BoolP(dryRunFlg, "n", false, "don't delete anything, just log what would be done")
	rootCmd.PersistentFlags().StringP(referenceTimeFlg, "", "", "RFC3339 instant anchoring the retention windows (default: newest backup)")

	rootCmd.PersistentFlags().StringP(objectPrefixFlg, "", "", "only consider objects under this prefix")

	rootCmd.PersistentFlags().StringP(s3EndpointFlg, "", "", "the url to the s3 endpoint (empty for AWS)")
	rootCmd.PersistentFlags().StringP(s3RegionFlg, "", "", "the region of the s3 backup bucket")
	rootCmd.PersistentFlags().StringP(s3AccessKeyFlg, "", "", "the s3 access-key-id")
	rootCmd.PersistentFlags().StringP(s3SecretKeyFlg, "", "", "the s3 secret-key-id")
	rootCmd.PersistentFlags().BoolP(s3PathStyleFlg, "", false, "use path-style bucket addressing (MinIO and friends)")

	rootCmd.PersistentFlags().StringP(gcsProjectFlg, "", "", "the project id of the gcs backup bucket")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		fmt.Printf("unable to construct root command: %v", err)
		os.Exit(1)
	}

	watchCmd.Flags().StringP(scheduleFlg, "", "0 * * * *", "cron schedule for rotating periodically")

	err = viper.BindPFlags(watchCmd.Flags())
	if err != nil {
		fmt.Printf("unable to construct watch command: %v", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROTATE_BACKUPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(cfgFileType)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Printf("config file path set explicitly, but unreadable: %v\n", err)
			os.Exit(1)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/" + moduleName)
		viper.AddConfigPath("$HOME/." + moduleName)
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			usedCfg := viper.ConfigFileUsed()
			if usedCfg != "" {
				fmt.Printf("config file unreadable: %s: %v\n", usedCfg, err)
				os.Exit(1)
			}
		}
	}
}

func initLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString(logLevelFlg))); err != nil {
		return fmt.Errorf("can't initialize logger: %w", err)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	usedCfg := viper.ConfigFileUsed()
	if usedCfg != "" {
		logger.Info("read config file", "config-file", usedCfg)
	}

	return nil
}

func initSignalHandlers() {
	stop, _ = signal.NotifyContext(context.Background(), os.Interrupt)
}

// container is one bucket or directory to rotate together with its
// effective per-container settings. The configuration file may override
// the command line scheme and patterns per bucket.
type container struct {
	Name    string
	Hourly  string
	Daily   string
	Weekly  string
	Monthly string
	Yearly  string
	Include []string
	Exclude []string
}

func resolveContainers(args []string) ([]container, error) {
	if len(args) > 0 {
		containers := make([]container, 0, len(args))
		for _, name := range args {
			containers = append(containers, container{Name: name})
		}
		return containers, nil
	}

	var containers []container
	if err := viper.UnmarshalKey(bucketsCfgKey, &containers); err != nil {
		return nil, fmt.Errorf("unable to parse %s from config file: %w", bucketsCfgKey, err)
	}
	if len(containers) == 0 {
		return nil, errors.New("no containers given and none configured")
	}
	return containers, nil
}

// buildScheme merges the command line retention flags with the
// per-container overrides from the configuration file. Invalid values are
// fatal before any container is touched.
func buildScheme(c container) (rotation.Scheme, error) {
	scheme := rotation.Scheme{}

	values := map[rotation.Frequency]string{
		rotation.Hourly:  viper.GetString(hourlyFlg),
		rotation.Daily:   viper.GetString(dailyFlg),
		rotation.Weekly:  viper.GetString(weeklyFlg),
		rotation.Monthly: viper.GetString(monthlyFlg),
		rotation.Yearly:  viper.GetString(yearlyFlg),
	}
	overrides := map[rotation.Frequency]string{
		rotation.Hourly:  c.Hourly,
		rotation.Daily:   c.Daily,
		rotation.Weekly:  c.Weekly,
		rotation.Monthly: c.Monthly,
		rotation.Yearly:  c.Yearly,
	}

	for frequency, value := range values {
		if override := overrides[frequency]; override != "" {
			value = override
		}
		if value == "" {
			continue
		}
		retention, err := rotation.ParseRetention(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", frequency, err)
		}
		scheme[frequency] = retention
	}

	return scheme, nil
}

func newStorage(ctx context.Context, log *slog.Logger, name string) (storage.Storage, error) {
	switch backend := viper.GetString(storageFlg); backend {
	case "s3":
		return s3.New(ctx, log.With("storage", "s3"), &s3.Config{
			BucketName:   name,
			Endpoint:     viper.GetString(s3EndpointFlg),
			Region:       viper.GetString(s3RegionFlg),
			AccessKey:    viper.GetString(s3AccessKeyFlg),
			SecretKey:    viper.GetString(s3SecretKeyFlg),
			ObjectPrefix: viper.GetString(objectPrefixFlg),
			PathStyle:    viper.GetBool(s3PathStyleFlg),
		})
	case "gcs":
		return gcs.New(ctx, log.With("storage", "gcs"), &gcs.Config{
			BucketName:   name,
			ObjectPrefix: viper.GetString(objectPrefixFlg),
			ProjectID:    viper.GetString(gcsProjectFlg),
		})
	case "local":
		return local.New(log.With("storage", "local"), &local.Config{
			Path: name,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

func newRotator(ctx context.Context, c container) (*rotate.Rotator, error) {
	store, err := newStorage(ctx, logger, c.Name)
	if err != nil {
		return nil, err
	}

	scheme, err := buildScheme(c)
	if err != nil {
		return nil, err
	}

	var reference time.Time
	if value := viper.GetString(referenceTimeFlg); value != "" {
		reference, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", referenceTimeFlg, err)
		}
	}

	include := c.Include
	if len(include) == 0 {
		include = viper.GetStringSlice(includeFlg)
	}
	exclude := c.Exclude
	if len(exclude) == 0 {
		exclude = viper.GetStringSlice(excludeFlg)
	}

	return rotate.New(logger.With("container", c.Name), store, &rotate.Config{
		Scheme:    scheme,
		Include:   include,
		Exclude:   exclude,
		DryRun:    viper.GetBool(dryRunFlg),
		Reference: reference,
	})
}

// rotateContainers rotates every container in turn. Configuration errors
// abort the invocation, errors local to one container are logged and the
// remaining containers proceed.
func rotateContainers(ctx context.Context, containers []container) error {
	rotators := make([]*rotate.Rotator, 0, len(containers))
	for _, c := range containers {
		rotator, err := newRotator(ctx, c)
		if err != nil {
			return err
		}
		rotators = append(rotators, rotator)
	}

	var failed int
	for i, rotator := range rotators {
		result, err := rotator.Rotate(ctx)

		var partialErr *storage.PartialDeletionError
		switch {
		case errors.As(err, &partialErr):
			logger.Warn("rotation completed with partial deletion failure", "container", containers[i].Name, "failed-names", partialErr.Failed)
		case errors.Is(err, storage.ErrNotFound):
			logger.Error("container not found", "container", containers[i].Name, "error", err)
			failed++
			continue
		case err != nil:
			logger.Error("rotation failed", "container", containers[i].Name, "error", err)
			failed++
			continue
		}

		logger.Info("rotation summary", "container", result.Container, "found", result.Found, "preserved", result.Preserved, "deleted", result.Deleted, "dry-run", result.DryRun)
	}

	if failed > 0 {
		return fmt.Errorf("rotation failed for %d of %d containers", failed, len(containers))
	}

	return nil
}

func frequencyList(frequencies []rotation.Frequency) string {
	parts := make([]string, 0, len(frequencies))
	for _, f := range frequencies {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ", ")
}
