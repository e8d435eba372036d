package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stepflow-io/stepflow/agent"
	"github.com/stepflow-io/stepflow/config"
	"github.com/stepflow-io/stepflow/logger"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "stepflow", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().Int("executor-capacity", 512, "step executor capacity")
	cmd.Flags().Int("timer-tick-seconds", 1, "poll interval for due timers")
	cmd.Flags().Int("retry-max-attempts", 3, "default max attempts per step")
	cmd.Flags().Int("retry-after-seconds", 5, "default delay between attempts")
	cmd.Flags().String("retry-policy", "FIXED", "default retry policy FIXED|BACKOFF")
	cmd.Flags().Bool("debug", false, "enable debug logging")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.ActionExecutorCapacity = viper.GetInt("executor-capacity")
	c.cfg.TimerTickSeconds = viper.GetInt("timer-tick-seconds")
	c.cfg.RetryMaxAttempts = viper.GetInt("retry-max-attempts")
	c.cfg.RetryAfterSeconds = viper.GetInt("retry-after-seconds")
	c.cfg.RetryPolicy = viper.GetString("retry-policy")
	c.cfg.Debug = viper.GetBool("debug")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.Init(c.cfg.Debug)
	defer logger.Sync()
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "stepflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
