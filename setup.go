package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	DBPath      string // Path of the sqlite database file.
	DataDir     string // Root of the default-mode media directories.
	ResolverURL string // Endpoint of the media resolution service.
	ImageGrant  string // User-granted image directory; "" for default mode.
	VideoGrant  string // User-granted video directory; "" for default mode.
	Jobs        int    // Number of concurrent downloads per batch.
	Verbose     bool   // True for verbose output.

	List   bool   // List recorded posts and exit.
	Remove string // Delete the given post record (and its files) and exit.
	Sel    string // Comma-separated 1-based item selection for batches.

	Links []string // Input links (or shared text containing links).
}

// loadFileConfig reads optional configuration from .env and config.yaml.
// Environment variables prefixed with INSTAFETCH_ override file settings;
// command-line flags override both.
func loadFileConfig() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file found, skipping")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("instafetch")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("db_path", filepath.Join("instafetch-data", "instafetch.db"))
	viper.SetDefault("data_dir", "instafetch-data")
	viper.SetDefault("resolver_url", "http://127.0.0.1:8765/resolve")
	viper.SetDefault("jobs", 4)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("no config.yaml found, using defaults")
		} else {
			fmt.Fprintf(os.Stderr, "error: failed to parse config.yaml: %v\n", err)
			os.Exit(1)
		}
	}
}

func parseArgs() (*Config, error) {
	loadFileConfig()

	verbose := flag.Bool("v", false, "verbose output")
	jobs := flag.Int("j", viper.GetInt("jobs"), "concurrent downloads per batch")
	dbPath := flag.String("db", viper.GetString("db_path"), "database path")
	dataDir := flag.String("data", viper.GetString("data_dir"), "media data directory")
	resolverURL := flag.String("resolver", viper.GetString("resolver_url"), "resolver endpoint")
	imageGrant := flag.String("image-dir", viper.GetString("image_dir"), "user-granted image directory")
	videoGrant := flag.String("video-dir", viper.GetString("video_dir"), "user-granted video directory")
	list := flag.Bool("list", false, "list recorded posts and exit")
	remove := flag.String("rm", "", "delete the given post record and its files, then exit")
	sel := flag.String("select", "", "comma-separated item numbers to download (default: all)")

	flag.Usage = usage
	flag.Parse()

	cfg := &Config{
		DBPath:      *dbPath,
		DataDir:     *dataDir,
		ResolverURL: *resolverURL,
		ImageGrant:  *imageGrant,
		VideoGrant:  *videoGrant,
		Jobs:        *jobs,
		Verbose:     *verbose,
		List:        *list,
		Remove:      *remove,
		Sel:         *sel,
		Links:       flag.Args(),
	}

	if !cfg.List && cfg.Remove == "" && len(cfg.Links) == 0 {
		return nil, fmt.Errorf("missing required argument: link")
	}

	return cfg, nil
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [option]... <link>...\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(flag.CommandLine.Output(), "Downloads media from shared instagram links.\n")
	flag.PrintDefaults()
}
