package cmd

import (
	"context"
	"io"
	"log"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/cobra"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
	"github.com/robotcode-ls/robotcode-go/langserver"
)

// version is reported back by the "version" command.
const version = "v1-dev"

var rootLog = logrus.WithField("component", "cmd")

var (
	mode    string
	addr    string
	trace   bool
	logfile string
)

// RootCommand builds the cobra command tree: a root command that always
// starts the language server over stdio or tcp, plus the hidden worker
// subcommand used for manual debugging of subprocess introspection.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "robotcode-go",
		Short: "Language server for a keyword-driven test automation ecosystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	root.PersistentFlags().StringVar(&mode, "mode", "stdio", "communication mode (stdio|tcp)")
	root.PersistentFlags().StringVar(&addr, "addr", ":4389", "server listen address (tcp mode)")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "print all requests and responses")
	root.PersistentFlags().StringVar(&logfile, "logfile", "", "also log to this file (in addition to stderr)")

	root.AddCommand(versionCommand())
	root.AddCommand(WorkerCommand())

	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the server version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version)
			return nil
		},
	}
}

func runServer() error {
	var logW io.Writer = os.Stderr
	if logfile != "" {
		f, err := os.Create(logfile)
		if err != nil {
			return err
		}
		defer f.Close()
		logW = io.MultiWriter(os.Stderr, f)
	}
	logrus.SetOutput(logW)

	var connOpt []jsonrpc2.ConnOpt
	if trace {
		connOpt = append(connOpt, jsonrpc2.LogMessages(log.New(logW, "", 0)))
	}

	handler := langserver.NewHandler(langserver.NewDefaultConfig(), imports.NewSubprocessIntrospector())

	switch mode {
	case "tcp":
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		defer lis.Close()

		rootLog.WithField("addr", addr).Info("listening")
		for {
			conn, err := lis.Accept()
			if err != nil {
				return err
			}
			jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), handler, connOpt...)
		}

	case "stdio":
		rootLog.Info("reading on stdin, writing on stdout")
		<-jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}), handler, connOpt...).DisconnectNotify()
		rootLog.Info("connection closed")
		return nil

	default:
		return &unsupportedModeError{mode: mode}
	}
}

type unsupportedModeError struct{ mode string }

func (e *unsupportedModeError) Error() string { return "invalid mode " + e.mode }

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdrwc) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
