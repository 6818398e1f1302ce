// Command electionmon is a minimal websocket client that connects to a
// coordinator's dashboard feed and prints each iteration/phase event as it
// arrives, grounded on the teacher's tools/ws_client (gorilla/websocket
// dialer, read loop, flag-driven address/path) and extended from a
// fixed 10-message read into an unbounded monitor loop with reconnect.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8420", "coordinator dashboard address")
	path := flag.String("path", "/ws", "websocket path")
	reconnect := flag.Duration("reconnect", 3*time.Second, "delay before reconnecting after a dropped connection")
	flag.Parse()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := monitorOnce(u.String(), stop); err != nil {
			log.Printf("connection lost: %v, reconnecting in %s", err, *reconnect)
		}
		select {
		case <-stop:
			return
		case <-time.After(*reconnect):
		}
	}
}

func monitorOnce(addr string, stop <-chan os.Signal) error {
	log.Printf("connecting to %s", addr)
	c, resp, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status=%s)", err, resp.Status)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()
	log.Printf("connected")

	msgs := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			msgs <- msg
		}
	}()

	for {
		select {
		case <-stop:
			return nil
		case err := <-errs:
			return err
		case msg := <-msgs:
			printEvent(msg)
		}
	}
}

func printEvent(raw []byte) {
	var env struct {
		Event     string         `json:"event"`
		Data      map[string]any `json:"data"`
		Timestamp int64          `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Printf("unparseable message: %s\n", raw)
		return
	}
	ts := time.UnixMilli(env.Timestamp).Format("15:04:05")
	fmt.Printf("[%s] %s %v\n", ts, env.Event, env.Data)
}
