package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/quillqay/pkg/logging"
	"github.com/astromechza/quillqay/pkg/model"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mainInner connects to the realtime endpoint, prints every broadcast and sends each line of stdin as a text frame.
func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:3000", "the address to connect to")
	debugVar := flag.Bool("debug", false, "log at debug level")
	flag.Parse()
	level := slog.LevelInfo
	if *debugVar {
		level = slog.LevelDebug
	}
	logging.Setup(level)

	u := &url.URL{Scheme: "ws", Host: *addrVar, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	slog.Info("connected", "url", u.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)
	writes := make(chan string)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(ctx.Err(), context.Canceled) {
					slog.Error("failed to read", "err", err)
				}
				return
			}
			if n, ok := model.ParseChangeNotification(string(p)); ok {
				fmt.Printf("%s %s %q\n", n.Type, n.PageID, n.Title)
			} else {
				fmt.Printf("> %s\n", p)
			}
		}
	}()

	// stdin is never closed under us so this goroutine is not waited on
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case writes <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	for running := true; running; {
		select {
		case line := <-writes:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				slog.Error("failed to write", "err", err)
				running = false
			}
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
			running = false
		case <-ctx.Done():
			running = false
		}
	}

	cancel()
	_ = conn.WriteControl(
		websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second),
	)
	_ = conn.Close()
	wg.Wait()
	return nil
}
