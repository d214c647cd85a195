package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/golang-io/stomp"
)

var (
	addr        = flag.String("addr", "127.0.0.1:61613", "broker host:port")
	login       = flag.String("login", "", "login")
	passcode    = flag.String("passcode", "", "passcode")
	destination = flag.String("destination", "/queue/test", "destination to subscribe and publish to")
	metricsURL  = flag.String("metrics", "", "serve prometheus metrics on this URL, e.g. http://0.0.0.0:9102")
)

func main() {
	flag.Parse()

	host, port, _ := strings.Cut(*addr, ":")
	spec := stomp.HostSpec{Login: *login, Passcode: *passcode, Host: host}
	fmt.Sscanf(port, "%d", &spec.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsURL != "" {
		go func() {
			if err := stomp.Httpd(*metricsURL); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	c, err := stomp.Dial(ctx,
		stomp.Hosts(spec),
		stomp.Reliable(true),
		stomp.HeartBeat(10*time.Second, 10*time.Second),
	)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("connected: protocol=%s session=%s", c.Protocol(), c.Session())

	if err := c.Subscribe(*destination, "s1", "ack", stomp.AckAuto); err != nil {
		log.Fatal(err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := c.Send(*destination, "text/plain",
				[]byte(time.Now().Format("2006-01-02 15:04:05"))); err != nil {
				log.Printf("send: %v", err)
			}
			time.Sleep(time.Second)
		}
	})

	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			f, err := c.Receive()
			if err != nil {
				return err
			}
			log.Printf("recv: %s", f)
		}
	})

	group.Go(func() error {
		defer cancel()
		sign := make(chan os.Signal, 1)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sign:
			return fmt.Errorf("got sign: %s", sig)
		}
	})

	err = group.Wait()
	if derr := c.Disconnect("receipt", "bye-1"); derr != nil {
		log.Printf("disconnect: %v", derr)
	}
	if err != nil {
		log.Fatal(err)
	}
}
