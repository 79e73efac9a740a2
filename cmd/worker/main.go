// Worker drains the email queue. It runs next to the API server and shares
// the same Redis; failed sends retry with asynq's backoff.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/klamai/klamai-backend/internal/mailer"
	"github.com/klamai/klamai-backend/internal/worker"
)

func main() {
	_ = godotenv.Load()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 5,
		},
	)

	proc := worker.NewProcessor(mailer.New())

	go func() {
		if err := srv.Run(proc.Handler()); err != nil {
			log.Fatal("worker:", err)
		}
	}()
	log.Println("Email worker running, redis at", redisAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down worker")
	srv.Shutdown()
}
