// Command knut is a line based client for the Knut server. Every line read
// from stdin is an envelope such as
//
//	{"apiId":2,"msgId":1,"msg":{"id":"L1"}}
//
// and every envelope received from the server is printed as one line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("knut", pflag.ContinueOnError)
	address := flags.StringP("address", "a", "127.0.0.1", "Address of the Knut server.")
	port := flags.IntP("port", "p", 8080, "Port of the Knut server.")
	level := flags.StringP("log", "l", "warn", "Log level: debug, info, warn or error.")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger, err := logging.New(*level, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, net.JoinHostPort(*address, strconv.Itoa(*port)), sugar); err != nil {
		sugar.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, sugar *zap.SugaredLogger) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	sugar.Infof("Connected to %s", addr)

	go func() {
		if err := send(conn, sugar); err != nil {
			sugar.Errorf("Sending failed: %v", err)
		}
		// The server answers pending requests and then closes.
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		defer conn.Close()
		r := bufio.NewReader(conn)
		out := json.NewEncoder(os.Stdout)
		for {
			env, err := envelope.Decode(r, 0)
			switch {
			case kerr.IsClosed(err):
				return context.Canceled
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return err
			}
			if err := out.Encode(env); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// send frames every envelope line of stdin and writes it to conn.
func send(conn net.Conn, sugar *zap.SugaredLogger) error {
	lines := bufio.NewScanner(os.Stdin)
	lines.Buffer(make([]byte, 0, 64*1024), envelope.DefaultMaxSize)
	for lines.Scan() {
		if len(lines.Bytes()) == 0 {
			continue
		}
		env, err := envelope.Unmarshal(lines.Bytes())
		if err != nil {
			sugar.Warnf("Invalid envelope: %v", err)
			continue
		}
		if err := envelope.Write(conn, env); err != nil {
			return err
		}
	}
	return lines.Err()
}
