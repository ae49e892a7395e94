// vcamhald hosts the virtual camera HAL provider: it enumerates the
// configured camera backends, exposes Prometheus metrics and waits
// for a binding layer to attach sessions.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/e7canasta/vcam/internal/session"
	"github.com/e7canasta/vcam/provider"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "vcamhald",
		Short: "Virtual camera HAL daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	cmd.Flags().String("qemud-addr", "", "emulator camera service endpoint")
	cmd.Flags().Int("fakes", 1, "number of built-in fake cameras")
	cmd.Flags().String("metrics-listen", ":9920", "metrics listen address, empty disables")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().Bool("pretty", false, "human-readable log output")

	viper.BindPFlag("qemud_addr", cmd.Flags().Lookup("qemud-addr"))
	viper.BindPFlag("fake_count", cmd.Flags().Lookup("fakes"))
	viper.BindPFlag("metrics_listen", cmd.Flags().Lookup("metrics-listen"))
	viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", cmd.Flags().Lookup("pretty"))

	return cmd
}

func run(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	viper.SetEnvPrefix("VCAMHALD")
	viper.AutomaticEnv()

	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg := provider.Config{
		QemudAddr: viper.GetString("qemud_addr"),
		FakeCount: viper.GetInt("fake_count"),
		Tuning: session.Tuning{
			FlushSoftDeadline: viper.GetDuration("flush_soft_deadline"),
			FlushHardDeadline: viper.GetDuration("flush_hard_deadline"),
		},
	}
	var webcams []struct {
		Name string
		URL  string
	}
	if err := viper.UnmarshalKey("webcams", &webcams); err != nil {
		return fmt.Errorf("webcams config: %w", err)
	}
	for _, wc := range webcams {
		cfg.Webcams = append(cfg.Webcams, provider.WebcamConfig(wc))
	}

	p, err := provider.New(cfg, log)
	if err != nil {
		return err
	}
	for _, d := range p.Devices() {
		log.Info().Str("id", d.ID()).Str("name", d.Name()).Msg("camera advertised")
	}

	if addr := viper.GetString("metrics_listen"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", addr).Msg("metrics listening")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	var out = os.Stderr
	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if viper.GetBool("log_pretty") {
		log = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return log, nil
}
