// Package main provides the entry point for the speakstream CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/config"
	"github.com/dgnsrekt/speakstream/ui"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	width      uint

	// cfg is loaded before any command runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "speakstream",
		Short: "Speak streamed text as it arrives",
		Long: paragraph(
			fmt.Sprintf("\nSpeak text %s, one sentence at a time, while the rest is still being written.", keyword("as it streams in")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
	}
)

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != styles.AutoStyle && styles.DefaultStyles[style] == nil {
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log.Debug("configuration loaded", "file", viper.ConfigFileUsed(), "settle", cfg.Speech.SettleDelay)

	// Detect terminal width
	if !cmd.Flags().Changed("width") && width == 0 {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
		}
		if width > 120 {
			width = 120
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// uiConfig reads UI settings from the environment.
func uiConfig(title string) (ui.Config, error) {
	c, err := env.ParseAs[ui.Config]()
	if err != nil {
		return c, fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or auto if unset
	if err := validateStyle(c.GlamourStyle); err != nil {
		log.Warn("ignoring glamour style", "err", err)
		c.GlamourStyle = styles.AutoStyle
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		c.GlamourStyle = styles.NoTTYStyle
	}

	c.Title = title
	c.Width = int(width) //nolint:gosec
	return c, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write debug output to the log file")
	rootCmd.PersistentFlags().UintVarP(&width, "width", "w", 0, "word-wrap the transcript at width (0 follows the terminal)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	// Config bindings
	_ = viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))

	rootCmd.AddCommand(speakCmd, sayCmd, listenCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "speakstream")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "speakstream")}, dirs...)
	}

	if c := os.Getenv("SPEAKSTREAM_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("speakstream")
	viper.SetConfigType("yaml")
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], "speakstream.yml")
	if err := ensureConfigFile(configFile); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
