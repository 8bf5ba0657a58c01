package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/okapi-social/okapi/activitypub"
	"github.com/okapi-social/okapi/db"
	"github.com/okapi-social/okapi/util"
	"github.com/okapi-social/okapi/web"
)

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("Starting %s", util.GetNameAndVersion())

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	activitypub.StartDeliveryWorker(ctx, database, conf)

	server := web.NewServer(database, conf)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatal(err)
		}
	}()

	<-done
	log.Info("Shutting down")
	cancel()
}
