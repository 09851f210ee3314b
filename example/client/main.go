// Command client is an interactive console for a quadsocket server.
//
//	move X Y   send a position (for example/server)
//	send TEXT  send TEXT as raw bytes
//	quit       leave
//
// Messages from the server are printed as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Zereker/quadsocket"
	"github.com/chzyer/readline"
)

type position struct {
	X, Y float32
}

type snapshot struct {
	X, Y       float32
	LastEditor uint32
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8090", "server address, host:port or ws://host:port")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	socket, err := quadsocket.Connect(ctx, *addr, quadsocket.LoggerOption(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer socket.Close()

	for !socket.IsConnected() {
		if socket.Closed() {
			fmt.Fprintf(os.Stderr, "connect: %v\n", socket.Err())
			os.Exit(1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    readline.NewPrefixCompleter(readline.PcItem("move"), readline.PcItem("send"), readline.PcItem("quit")),
		InterruptPrompt: "",
		EOFPrompt:       "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	go printIncoming(socket, rl.Stdout())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "readline: %v\n", err)
			return
		}

		if err := run(socket, strings.TrimSpace(line)); err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

func run(socket *quadsocket.Socket, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return nil
	case "quit", "exit":
		return io.EOF
	case "send":
		return socket.Send([]byte(rest))
	case "move":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return fmt.Errorf("usage: move X Y")
		}
		x, err := strconv.ParseFloat(fields[0], 32)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return err
		}
		return socket.SendValue(position{X: float32(x), Y: float32(y)})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// printIncoming polls the socket the way a frame loop would.
func printIncoming(socket *quadsocket.Socket, out io.Writer) {
	var last snapshot
	for range time.Tick(16 * time.Millisecond) {
		for {
			msg, ok := socket.TryReceive()
			if !ok {
				break
			}
			var s snapshot
			if err := (quadsocket.BinaryCodec{}).Unmarshal(msg, &s); err == nil {
				if s != last {
					fmt.Fprintf(out, "point at (%.1f, %.1f), last moved by %d\n", s.X, s.Y, s.LastEditor)
					last = s
				}
				continue
			}
			fmt.Fprintf(out, "received %q\n", msg)
		}
		if socket.Closed() {
			fmt.Fprintf(out, "disconnected: %v\n", socket.Err())
			return
		}
	}
}
