// Command coordinator runs the chunkforge coordinator: it accepts worker
// connections, hands out spatial chunks to generate, and drives their
// results into the downstream ingest service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chunkforge/internal/archive"
	"chunkforge/internal/cfgguard"
	"chunkforge/internal/chunklog"
	"chunkforge/internal/config"
	"chunkforge/internal/coordinator"
	"chunkforge/internal/eventbus"
	"chunkforge/internal/ingestclient"
	"chunkforge/internal/logging"
	"chunkforge/internal/partition"
	"chunkforge/internal/report"
	"chunkforge/internal/tracking"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(baseHandler)

	rootCmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Distribute spatial chunk generation work to workers",
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the coordinator and accept worker connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("configfile")
			skipIngest, _ := cmd.Flags().GetBool("skipIngest")
			skipSchema, _ := cmd.Flags().GetBool("skipSchema")
			outDir, _ := cmd.Flags().GetString("outDir")
			inDir, _ := cmd.Flags().GetString("inDir")
			raw, _ := cmd.Flags().GetString("raw")
			numStripes, _ := cmd.Flags().GetInt("stripes")
			heartbeat, _ := cmd.Flags().GetDuration("heartbeat")
			archiveKind, _ := cmd.Flags().GetString("archiveKind")
			archiveBucket, _ := cmd.Flags().GetString("archiveBucket")
			s3AccessKey, _ := cmd.Flags().GetString("s3AccessKey")
			s3SecretKey, _ := cmd.Flags().GetString("s3SecretKey")
			azureConnStr, _ := cmd.Flags().GetString("azureConnStr")
			azureContainer, _ := cmd.Flags().GetString("azureContainer")
			eventKind, _ := cmd.Flags().GetString("eventKind")
			eventTopic, _ := cmd.Flags().GetString("eventTopic")
			mqttBroker, _ := cmd.Flags().GetString("mqttBroker")
			kafkaBrokers, _ := cmd.Flags().GetString("kafkaBrokers")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, runArgs{
				configFile:     configFile,
				skipIngest:     skipIngest,
				skipSchema:     skipSchema,
				outDir:         outDir,
				inDir:          inDir,
				raw:            raw,
				numStripes:     numStripes,
				heartbeat:      heartbeat,
				archiveKind:    archiveKind,
				archiveBucket:  archiveBucket,
				s3AccessKey:    s3AccessKey,
				s3SecretKey:    s3SecretKey,
				azureConnStr:   azureConnStr,
				azureContainer: azureContainer,
				eventKind:      eventKind,
				eventTopic:     eventTopic,
				mqttBroker:     mqttBroker,
				kafkaBrokers:   kafkaBrokers,
			})
		},
	}
	serverCmd.Flags().String("configfile", "", "path to the coordinator's YAML configuration file (required)")
	serverCmd.Flags().Bool("skipIngest", false, "skip uploading completed chunks to the ingest service")
	serverCmd.Flags().Bool("skipSchema", false, "skip registering the database and table schemas with the ingest service")
	serverCmd.Flags().String("outDir", ".", "directory to write chunk log and report files into")
	serverCmd.Flags().String("inDir", "", "directory to resume chunk logs from (defaults to outDir)")
	serverCmd.Flags().String("raw", "", "comma-separated raw chunk id list to restrict this run to")
	serverCmd.Flags().Int("stripes", 180, "number of declination stripes for the reference partitioner")
	serverCmd.Flags().Duration("heartbeat", 0, "log remaining-chunk progress at this interval (0 disables)")
	serverCmd.Flags().String("archiveKind", "", "archive completed run logs to this object store backend: s3, gcs, or azure (empty disables)")
	serverCmd.Flags().String("archiveBucket", "", "bucket or container name for the archive backend")
	serverCmd.Flags().String("s3AccessKey", "", "static AWS access key for archiveKind=s3 (empty uses the default credential chain)")
	serverCmd.Flags().String("s3SecretKey", "", "static AWS secret key for archiveKind=s3 (empty uses the default credential chain)")
	serverCmd.Flags().String("azureConnStr", "", "Azure Blob Storage connection string, when archiveKind=azure")
	serverCmd.Flags().String("azureContainer", "", "Azure Blob Storage container name, when archiveKind=azure")
	serverCmd.Flags().String("eventKind", "", "publish a completion event via this backend: mqtt or kafka (empty disables)")
	serverCmd.Flags().String("eventTopic", "chunkforge.completion", "topic or queue name for the completion event")
	serverCmd.Flags().String("mqttBroker", "tcp://localhost:1883", "MQTT broker address, when eventKind=mqtt")
	serverCmd.Flags().String("kafkaBrokers", "localhost:9092", "comma-separated Kafka seed brokers, when eventKind=kafka")
	_ = serverCmd.MarkFlagRequired("configfile")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type runArgs struct {
	configFile string
	skipIngest bool
	skipSchema bool
	outDir     string
	inDir      string
	raw        string
	numStripes int
	heartbeat  time.Duration

	archiveKind    string
	archiveBucket  string
	s3AccessKey    string
	s3SecretKey    string
	azureConnStr   string
	azureContainer string

	eventKind    string
	eventTopic   string
	mqttBroker   string
	kafkaBrokers string
}

func run(ctx context.Context, logger *slog.Logger, a runArgs) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	inDir := a.inDir
	if inDir == "" {
		inDir = a.outDir
	}

	hashPath := filepath.Join(inDir, "config.hash")
	currentHash, err := cfgguard.Compute([]string{a.configFile, cfg.Partitioner.CfgDir, cfg.Pregenerated.CfgDir})
	if err != nil {
		return fmt.Errorf("compute config hash: %w", err)
	}
	if err := cfgguard.Check(hashPath, currentHash); err != nil {
		return fmt.Errorf("resume refused: %w", err)
	}
	if err := cfgguard.WriteHashFile(hashPath, currentHash); err != nil {
		return fmt.Errorf("record config hash: %w", err)
	}
	if err := cfgguard.WatchConfigFile(ctx, a.configFile, logger); err != nil {
		logger.Warn("config file watch disabled", "error", err)
	}

	partitioner, err := partition.NewStripePartitioner(a.numStripes)
	if err != nil {
		return fmt.Errorf("build partitioner: %w", err)
	}

	inPaths := chunklog.Paths{
		Target:    filepath.Join(inDir, "target.clg"),
		Completed: filepath.Join(inDir, "completed.clg"),
		Assigned:  filepath.Join(inDir, "assigned.clg"),
		Limbo:     filepath.Join(inDir, "limbo.clg"),
	}
	if a.inDir == "" {
		// Without --inDir, a fresh run finds no logs in outDir and builds
		// from --raw or every valid chunk instead.
		if _, err := os.Stat(inPaths.Target); os.IsNotExist(err) {
			inPaths = chunklog.Paths{}
		}
	}
	inLogs := chunklog.New(inPaths)
	if err := inLogs.Build(partitioner.AllValidChunks(), a.raw); err != nil {
		return fmt.Errorf("build chunk logs: %w", err)
	}
	logs := inLogs.CreateOutput(a.outDir)
	if err := logs.Write(); err != nil {
		return fmt.Errorf("write chunk logs: %w", err)
	}

	resultSet := make([]int, 0, len(logs.ResultSet))
	for id := range logs.ResultSet {
		resultSet = append(resultSet, id)
	}

	ingest := ingestclient.New(
		fmt.Sprintf("http://%s:%d", cfg.Ingest.Host, cfg.Ingest.Port),
		cfg.Ingest.AuthKey,
		ingestclient.WithRateLimit(10, 20),
	)

	var tables []string
	if !a.skipSchema && !a.skipIngest {
		schemas, err := coordinator.LoadSchemaFiles(cfg.Ingest.CfgDir)
		if err != nil {
			return fmt.Errorf("load schema files: %w", err)
		}
		dbConfig, err := databaseConfigJSON(cfg.Ingest.DBName)
		if err != nil {
			return err
		}
		tables, err = coordinator.RegisterSchemas(ctx, ingest, dbConfig, schemas)
		if err != nil {
			return fmt.Errorf("register schemas: %w", err)
		}
		logger.Info("registered schemas", "database", cfg.Ingest.DBName, "tables", tables)
	}

	ct := tracking.New(tracking.Config{
		ResultSet:       resultSet,
		Logs:            logs,
		Ingest:          ingest,
		Database:        cfg.Ingest.DBName,
		TransactionSize: cfg.FakeDataGenerator.TransactionSize,
		SkipIngest:      a.skipIngest,
		Logger:          logger,
	})

	var partitionerFiles, pregeneratedFiles []coordinator.FileEntry
	var g errgroup.Group
	g.Go(func() error {
		files, err := coordinator.LoadFileBundle(cfg.Partitioner.CfgDir)
		if err != nil {
			return fmt.Errorf("load partitioner bundle: %w", err)
		}
		partitionerFiles = files
		return nil
	})
	g.Go(func() error {
		files, err := coordinator.LoadFileBundle(cfg.Pregenerated.CfgDir)
		if err != nil {
			return fmt.Errorf("load pregenerated bundle: %w", err)
		}
		pregeneratedFiles = files
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		ListenAddr: fmt.Sprintf(":%d", cfg.Server.Port),
		Tracking:   ct,
		Ingest:     ingest,
		Uploader:   &ingestclient.SubprocessUploader{},
		SkipIngest: a.skipIngest,
		Database:   cfg.Ingest.DBName,
		Tables:     tables,
		GeneratorSpec: coordinator.GeneratorSpec{
			Objects: cfg.FakeDataGenerator.Objects,
			Visits:  cfg.FakeDataGenerator.Visits,
			Seed:    cfg.FakeDataGenerator.Seed,
			CfgBlob: cfg.FakeDataGenerator.CfgFileName,
		},
		PartitionerFiles:  partitionerFiles,
		PregeneratedFiles: pregeneratedFiles,
		Logger:            logging.Default(logger).With("component", "coordinator"),
	})

	var scheduler gocron.Scheduler
	if a.heartbeat > 0 {
		scheduler, err = startHeartbeat(ct, a.heartbeat, logger)
		if err != nil {
			logger.Warn("heartbeat scheduler disabled", "error", err)
		}
	}

	start := time.Now()
	logger.Info("coordinator starting", "listen", cfg.Server.Port, "chunks", len(resultSet))
	runErr := coord.Run(ctx)

	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("heartbeat scheduler shutdown", "error", err)
		}
	}

	if err := logs.Write(); err != nil {
		logger.Error("write chunk logs", "error", err)
	}
	report.Print(os.Stdout, logs, coord.Timing())

	if runErr == nil && ct.AllFinished() {
		publishCompletion(ctx, a, cfg, len(resultSet), time.Since(start), logger)
		archiveRun(ctx, a, a.outDir, logger)
	}

	return runErr
}

// startHeartbeat schedules a recurring job that logs remaining-chunk
// progress, for operators watching a long batch without a separate
// metrics scrape.
func startHeartbeat(ct *tracking.ChunkTracking, interval time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			logger.Info("progress", "remaining", ct.RemainingChunkCount(), "allFinished", ct.AllFinished())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule heartbeat job: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

// publishCompletion notifies a configured eventbus backend that the run
// finished. Failure is logged, not propagated: the run itself already
// succeeded.
func publishCompletion(ctx context.Context, a runArgs, cfg *config.Config, chunkCount int, elapsed time.Duration, logger *slog.Logger) {
	if a.eventKind == "" {
		return
	}
	publisher, err := eventbus.New(eventbus.BackendConfig{
		Kind:         a.eventKind,
		MQTTBroker:   a.mqttBroker,
		MQTTClientID: "chunkforge-coordinator",
		KafkaBrokers: strings.Split(a.kafkaBrokers, ","),
		Topic:        a.eventTopic,
	})
	if err != nil {
		logger.Warn("completion event publisher unavailable", "error", err)
		return
	}
	defer publisher.Close()

	ev := eventbus.CompletionEvent{
		Database:   cfg.Ingest.DBName,
		ChunkCount: chunkCount,
		Duration:   elapsed.String(),
		FinishedAt: time.Now(),
	}
	if err := publisher.Publish(ctx, ev); err != nil {
		logger.Warn("publish completion event failed", "error", err)
	}
}

// archiveRun uploads the run's chunk logs to a configured object store.
// Failure is logged, not propagated: the logs remain on local disk as
// the authoritative resume source regardless.
func archiveRun(ctx context.Context, a runArgs, logDir string, logger *slog.Logger) {
	if a.archiveKind == "" {
		return
	}
	store, err := archive.NewStore(ctx, archive.BackendConfig{
		Kind:                  a.archiveKind,
		Bucket:                a.archiveBucket,
		S3AccessKey:           a.s3AccessKey,
		S3SecretKey:           a.s3SecretKey,
		AzureConnectionString: a.azureConnStr,
		AzureContainer:        a.azureContainer,
	})
	if err != nil {
		logger.Warn("archive store unavailable", "error", err)
		return
	}
	archiver := archive.New(store, nil)
	for _, name := range []string{"target.clg", "completed.clg", "assigned.clg", "limbo.clg"} {
		path := filepath.Join(logDir, name)
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("archive open", "path", path, "error", err)
			}
			continue
		}
		err = archiver.Put(ctx, filepath.Join("chunkforge", time.Now().Format("20060102-150405"), name), f)
		f.Close()
		if err != nil {
			logger.Warn("archive upload failed", "path", path, "error", err)
		}
	}
}

// databaseConfigJSON builds the minimal database-registration payload the
// ingest service expects, naming only the database under management.
func databaseConfigJSON(dbName string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"database": dbName})
	if err != nil {
		return nil, fmt.Errorf("encode database config: %w", err)
	}
	return payload, nil
}
