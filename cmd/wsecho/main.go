// Command wsecho is a small WebSocket echo server, useful for exercising
// the websocket package's Accept path and, optionally, its
// permessage-deflate negotiation against a real peer.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coregx/wsengine/websocket"
)

const (
	configDirName  = "wsecho"
	configFileName = "config.toml"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsecho",
		Usage: "run a WebSocket echo server built on github.com/coregx/wsengine",
		Flags: flags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address to listen on",
			Value: ":8080",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_ADDR"),
				toml.TOML("server.addr", path),
			),
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "HTTP path to accept WebSocket upgrades on",
			Value: "/ws",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_PATH"),
				toml.TOML("server.path", path),
			),
		},
		&cli.BoolFlag{
			Name:  "compression",
			Usage: "negotiate permessage-deflate with clients that offer it",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_COMPRESSION"),
				toml.TOML("server.compression", path),
			),
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHO_PRETTY_LOG"),
				toml.TOML("server.pretty_log", path),
			),
		},
	}
}

// configFile returns the path to wsecho's configuration file, creating an
// empty one the first time the command runs.
func configFile() altsrc.StringSourcer {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = dir + string(os.PathSeparator) + configDirName
	_ = os.MkdirAll(dir, 0o755)
	path := dir + string(os.PathSeparator) + configFileName
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, nil, 0o644)
	}
	return altsrc.StringSourcer(path)
}

func initLog(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := initLog(cmd.Bool("pretty-log"))
	log.Logger = logger

	addr := cmd.String("addr")
	path := cmd.String("path")

	var compression websocket.Compression
	if cmd.Bool("compression") {
		compression = websocket.PermessageDeflate{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		serveEcho(w, r, compression)
	})

	logger.Info().Str("addr", addr).Str("path", path).Msg("wsecho: listening")
	srv := &http.Server{Addr: addr, Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}
	return srv.ListenAndServe()
}

func serveEcho(w http.ResponseWriter, r *http.Request, compression websocket.Compression) {
	conn, err := websocket.Accept(w, r, nil, &websocket.AcceptOptions{Compression: compression})
	if err != nil {
		log.Warn().Err(err).Msg("wsecho: accept failed")
		http.Error(w, "websocket accept failed", http.StatusBadRequest)
		return
	}
	defer conn.Close()

	logger := log.With().Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("wsecho: client connected")

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err) {
				logger.Info().Msg("wsecho: client disconnected")
			} else {
				logger.Warn().Err(err).Msg("wsecho: read failed")
			}
			return
		}
		if frame.OpCode == websocket.OpClose {
			return
		}
		if err := conn.Write(frame.OpCode, frame.Payload); err != nil {
			logger.Warn().Err(err).Msg("wsecho: write failed")
			return
		}
	}
}
