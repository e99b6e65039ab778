package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"xdao.co/boards/config"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	context    string
	version    string
	statusURL  string
	remoteNode string
	settings   string
	httpListen string
	grpcListen string

	cfg config.Config
	log *logrus.Entry
}

func Execute() error {
	return NewRoot(os.Stdout, os.Stderr).Execute()
}

// NewRoot builds the command tree writing results to out and logs to errOut.
func NewRoot(out, errOut io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "boardsd",
		Short:        "Peer-to-peer discussion boards node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd, errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	f := root.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "JSON config file")
	f.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", "text", "log format (text, json)")
	f.StringVar(&o.context, "context", "", "execution context: server or client")
	f.StringVar(&o.version, "app-version", "", "version published in the version marker")
	f.StringVar(&o.statusURL, "status-url", "", "status endpoint of a server node (e.g. http://127.0.0.1:8080)")
	f.StringVar(&o.remoteNode, "remote", "", "gRPC target of a daemon's node to attach to")
	f.StringVar(&o.settings, "settings", "", "settings file (default in-memory)")
	f.StringVar(&o.httpListen, "http-listen", "", "status HTTP listen address")
	f.StringVar(&o.grpcListen, "grpc-listen", "", "node gRPC listen address (serve only)")

	root.AddCommand(serveCmd(o), openCmd(o), resolveCmd(o), infoCmd(o), favouritesCmd(o), blocksCmd(o))
	return root
}

func (o *options) setup(cmd *cobra.Command, errOut io.Writer) error {
	logger := logrus.New()
	logger.SetOutput(errOut)
	lvl, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	switch strings.ToLower(o.logFormat) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", o.logFormat)
	}
	o.log = logrus.NewEntry(logger)

	cfg := config.Default()
	if o.configPath != "" {
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	override("context", &cfg.Context, o.context)
	override("app-version", &cfg.Version, o.version)
	override("status-url", &cfg.StatusURL, o.statusURL)
	override("remote", &cfg.RemoteNode, o.remoteNode)
	override("settings", &cfg.SettingsFile, o.settings)
	override("http-listen", &cfg.HTTPListen, o.httpListen)
	override("grpc-listen", &cfg.GRPCListen, o.grpcListen)
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// withApp runs fn against a freshly wired app and tears it down afterwards.
func (o *options) withApp(fn func(a *app) error) error {
	a, err := newApp(o.cfg, o.log)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.close(); err != nil {
		o.log.WithError(err).Warn("shutdown incomplete")
	}
	return runErr
}
