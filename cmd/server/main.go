package main

import (
	"context"
	"crypto/ed25519"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"castle_chat/internal/config"
	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/repository/certificate"
	redisSvc "castle_chat/internal/service/redis"
	"castle_chat/internal/service/server"
	"castle_chat/internal/utils/log"
)

func main() {
	flags := pflag.NewFlagSet("castle-relay", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Development); err != nil {
		log.Fatal("setup logger failed", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	redis := redisSvc.NewRedis(rdb)
	if err := redis.Ping(ctx); err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}

	signer, err := signingKey(cfg.Directory)
	if err != nil {
		log.Fatal("directory key invalid", zap.Error(err))
	}

	certRepo := certificate.NewCertificateRepo(db)
	c := server.NewHttpServer(redis, certRepo, signer, cfg.Relay.ChannelTTL)
	if err := c.Run(ctx, cfg.Relay.Addr); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
	log.Info("relay stopped")
}

// signingKey falls back to a throwaway key, which invalidates every
// certificate issued before a restart.
func signingKey(cfg config.DirectoryConfig) (ed25519.PrivateKey, error) {
	key, err := cfg.SigningKeyBytes()
	if err != nil || key != nil {
		return key, err
	}

	_, key, err = signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	log.Warn("no directory.signing_key configured, using an ephemeral key")
	return key, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
