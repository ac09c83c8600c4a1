// Package main 是 CallForge 的 CLI 入口
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KodaTao/CallForge/pkg/chassis"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/server"
	"github.com/KodaTao/CallForge/pkg/storage"
)

const version = "v0.1.0"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "callforge",
		Short: "CallForge - turn recorded HTTP requests into callable functions",
		Long: `CallForge learns parameterized HTTP request templates from recorded samples
and exposes them as named functions with generated call signatures.`,
	}

	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(specCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCmd 启动 HTTP 服务器
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the CallForge HTTP server to teach, execute and schedule functions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数覆盖配置
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			app := chassis.New(chassis.WithConfig(config))
			if err := app.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			srv := server.NewServer(app)

			// 优雅关闭
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				observability.Info("Received shutdown signal")
				if err := app.Shutdown(); err != nil {
					os.Exit(1)
				}
				os.Exit(0)
			}()

			return srv.Run()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")

	return cmd
}

// specCmd 打印函数的调用签名
func specCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spec <function-id>",
		Short: "Print the call signature of a stored function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			config.Scheduler.Enabled = false
			config.LLM.Enabled = false

			db, err := storage.Open(storage.Config{Path: config.Database.Path})
			if err != nil {
				return err
			}

			app := chassis.New(chassis.WithConfig(config))
			if err := app.InitializeWithDB(db); err != nil {
				return err
			}

			spec, err := app.Functions().Specification(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(spec)
		},
	}
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("CallForge " + version)
			fmt.Println("Recorded HTTP requests as callable functions")
		},
	}
}

// loadConfig 加载配置文件
func loadConfig() (*chassis.Config, error) {
	v := viper.New()

	// 设置默认值
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.path", "~/.callforge/callforge.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("engine.arg_count_limit", 10)
	v.SetDefault("engine.accepted_status_min", 200)
	v.SetDefault("engine.accepted_status_max", 299)
	v.SetDefault("engine.escaping", "control")

	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.max_body_bytes", 0)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30)

	v.SetDefault("scheduler.enabled", true)

	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "callforge")

	// 配置文件
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.callforge")
	}

	// 环境变量，例如 CF_SERVER_PORT、CF_LLM_API_KEY
	v.SetEnvPrefix("CF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	config := &chassis.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}
