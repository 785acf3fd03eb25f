// Command seqtracker inspects and manipulates a sequence number tracker.
//
//	seqtracker read
//	seqtracker advance <n>
//	seqtracker reset
//
// The backing store is selected with STORE (dynamodb, redis, mongo, postgres).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pratilipi/sequence-tracker-go/store"
	"github.com/pratilipi/sequence-tracker-go/tracker"
)

const (
	defaultStore     = "dynamodb"
	defaultTable     = "sequence_trackers"
	defaultRegion    = "us-east-1"
	defaultRedisAddr = "localhost:6379"
	defaultMongoURI  = "mongodb://localhost:27017"
	defaultMongoDB   = "seqtracker"

	exitFailure         = 1
	exitInvalidArgument = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(env("LOG_LEVEL", "info"))})))

	cmd, err := parseCommand(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: seqtracker read | advance <n> | reset")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, envDuration("TIMEOUT", 6*time.Minute))
	defer cancel()

	tableName := env("TABLE_NAME", defaultTable)
	trackerName := os.Getenv("TRACKER_NAME")
	if trackerName == "" {
		slog.Error("TRACKER_NAME is required")
		return exitFailure
	}

	st, closeStore, err := openStore(ctx, env("STORE", defaultStore), tableName)
	if err != nil {
		slog.Error("open store", slog.Any("err", err))
		return exitFailure
	}
	defer closeStore()

	tr, err := tracker.New(ctx, tracker.Config{
		TableName: tableName,
		Name:      trackerName,
		Logger:    slog.Default(),
	}, st)
	if err != nil {
		slog.Error("init tracker", slog.String("table", tableName), slog.Any("err", err))
		return exitFailure
	}

	if err := cmd.exec(ctx, tr); err != nil {
		if errors.Is(err, tracker.ErrInvalidArgument) {
			fmt.Fprintln(os.Stderr, err)
			return exitInvalidArgument
		}
		slog.Error(cmd.name, slog.String("tracker", trackerName), slog.Any("err", err))
		return exitFailure
	}
	return 0
}

type command struct {
	name           string
	sequenceNumber int64
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command")
	}
	switch args[0] {
	case "read", "reset":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", args[0])
		}
		return command{name: args[0]}, nil
	case "advance":
		if len(args) != 2 {
			return command{}, errors.New("advance takes exactly one sequence number")
		}
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid sequence number %q: %w", args[1], err)
		}
		return command{name: "advance", sequenceNumber: n}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func (c command) exec(ctx context.Context, tr tracker.SequenceNumberTracker) error {
	switch c.name {
	case "read":
		n, err := tr.Read(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
	case "advance":
		if err := tr.Advance(ctx, c.sequenceNumber); err != nil {
			return err
		}
		slog.Info("advanced", slog.Int64("sequence_number", c.sequenceNumber))
	case "reset":
		return tr.Reset(ctx)
	}
	return nil
}

func openStore(ctx context.Context, kind, tableName string) (store.Store, func(), error) {
	switch strings.ToLower(kind) {
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env("AWS_REGION", defaultRegion)))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := os.Getenv("AWS_ENDPOINT")
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		return store.NewDynamoDBStore(client, tableName, envDuration("TABLE_WAIT", 5*time.Minute)), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     env("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		})
		return store.NewRedisStore(client, env("REDIS_PREFIX", ""), tableName), func() { _ = client.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(env("MONGO_URI", defaultMongoURI)))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return store.NewMongoStore(client.Database(env("MONGO_DATABASE", defaultMongoDB)), tableName), closeFn, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store.NewPostgresStore(pool, tableName), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

func logLevel(val string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func env(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func envInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid int env; using default", slog.String("key", key), slog.String("value", val), slog.Int("default", def))
		return def
	}
	return parsed
}

func envDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration env; using default", slog.String("key", key), slog.String("value", val), slog.Duration("default", def))
		return def
	}
	return parsed
}
