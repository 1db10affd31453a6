package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/dgnsrekt/speakstream/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the speakstream config file",
	Long: paragraph(fmt.Sprintf("\n%s voice timing, audio output and backend settings in $EDITOR. A commented file with the defaults is written first if none exists, and the result is checked once the editor exits. The Fish Audio key and voice stay in the environment.", keyword("Edit"))),
	Example: paragraph("speakstream config\nspeakstream config --config ./speakstream.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		file := configFile
		if file == "" {
			file = viper.GetViper().ConfigFileUsed()
		}
		if err := ensureConfigFile(file); err != nil {
			return err
		}

		c, err := editor.Cmd("speakstream", file)
		if err != nil {
			return fmt.Errorf("unable to find an editor: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor exited with an error: %w", err)
		}

		if err := checkConfigFile(file); err != nil {
			return fmt.Errorf("%s will not load: %w", file, err)
		}
		fmt.Println("Settings saved to", file)
		return nil
	},
}

// ensureConfigFile writes the default settings to file unless something is
// already there.
func ensureConfigFile(file string) error {
	if file == "" {
		return errors.New("no config file location")
	}
	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config file %q must end in .yml or .yaml", file)
	}

	_, err := os.Stat(file)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := config.WriteDefault(f, config.Default()); err != nil {
		return fmt.Errorf("unable to write default settings: %w", err)
	}
	return nil
}

// checkConfigFile loads file on its own and validates it.
func checkConfigFile(file string) error {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	_, err := config.Load(v)
	return err
}
