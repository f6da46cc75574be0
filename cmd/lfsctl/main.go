// Command lfsctl formats, inspects and edits a log-structured filesystem
// image.
package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/metrics"
	"github.com/mit-pdos/go-lfs/util"
)

var (
	cfgFile     string
	showMetrics bool

	v    *viper.Viper
	conf *config.Config
	log  *zap.Logger
	reg  *prometheus.Registry
	met  *metrics.Metrics
)

var command = &cobra.Command{
	Use:   "lfsctl",
	Short: "Log-structured filesystem tool",
	Long: `lfsctl operates on a filesystem image directly: files are named by
inode number and every change is appended to the segment log.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	command.SetOut(os.Stdout)
	f := command.PersistentFlags()
	f.StringVarP(&cfgFile, "config", "c", "", "YAML configuration file")
	f.StringP("disk", "d", "", "filesystem image")
	f.String("inode-map", "", "bbolt database for the inode map")
	f.String("log-level", "", "debug, info, warn or error")
	f.BoolVar(&showMetrics, "metrics", false, "print collected metrics on exit")

	command.AddCommand(
		formatCMD,
		createCMD,
		writeCMD,
		readCMD,
		statCMD,
		segmentsCMD,
		cleanCMD,
		locateCMD,
	)
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	v, err = config.New(cfgFile)
	if err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"disk":      "disk",
		"inode_map": "inode-map",
		"log.level": "log-level",
	} {
		if fl := cmd.Flags().Lookup(flag); fl != nil && fl.Changed {
			v.Set(key, fl.Value.String())
		}
	}
	conf, err = config.Load(v)
	if err != nil {
		return err
	}
	log, err = newLogger(conf.Log)
	if err != nil {
		return err
	}
	util.Debug = conf.Log.Trace
	util.SetLogger(log.Named("trace"))

	reg = prometheus.NewRegistry()
	met = metrics.New(reg)
	return nil
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func teardown(cmd *cobra.Command, _ []string) error {
	if showMetrics {
		printMetrics(cmd)
	}
	_ = log.Sync()
	return nil
}

func main() {
	if err := command.Execute(); err != nil {
		command.PrintErrln(err)
		os.Exit(1)
	}
}
