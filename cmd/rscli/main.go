// Command rscli lists, extracts and rewrites PSARC archives.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/EchoTools/psarcTools/pkg/psarc"
	"github.com/EchoTools/psarcTools/pkg/sng"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	input     string
	list      bool
	extract   bool
	output    string
	appID     string
	platform  sng.Platform
	outputDir string
	include   []string
	raw       bool
	keep      bool
	create    string
	logLevel  string
}

var opts = &options{}

var rootCmd = &cobra.Command{
	Use:   "rscli",
	Short: "List, extract and rewrite PSARC archives",
	Long: `rscli reads PSARC archives. Encrypted .sng files are decrypted during
extraction and written next to the raw file with .decrypted and .decompressed
suffixes. With --output the archive is written anew, optionally with a new
application id or with .sng files re-encrypted for another platform.`,
	Example: `  rscli -i songs.psarc -l
  rscli -i songs.psarc -e -d out --include 'songs/**/*.sng'
  rscli -i songs_p.psarc -o songs_m.psarc -p mac
  rscli --create out -o rebuilt.psarc`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := psarc.SetLogLevel(opts.logLevel); err != nil {
			return err
		}
		return validateFlags()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.OutOrStdout())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "Input psarc file to use")
	flags.BoolVarP(&opts.list, "list", "l", false, "List id, size, and name of every file in the archive")
	flags.BoolVarP(&opts.extract, "extract", "e", false, "Extract all files; encrypted .sng files are decrypted as well")
	flags.StringVarP(&opts.output, "output", "o", "", "Output psarc file to write to (overwrites the file)")
	flags.StringVarP(&opts.appID, "appid", "a", "", "Set AppID to the supplied value in the output file")
	flags.VarP(&opts.platform, "platform", "p", "Write .sng files as pc or mac in the output file")
	flags.StringVarP(&opts.outputDir, "dir", "d", "", "Extraction directory (default: archive name without .psarc)")
	flags.StringSliceVar(&opts.include, "include", nil, "Only extract entries matching these glob patterns")
	flags.BoolVar(&opts.raw, "raw", false, "Do not write .decrypted and .decompressed files")
	flags.BoolVar(&opts.keep, "skip-existing", false, "Keep files that already exist when extracting")
	flags.StringVar(&opts.create, "create", "", "Build a new archive from this directory (requires --output)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error, disabled")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("rscli failed")
		os.Exit(1)
	}
}

func validateFlags() error {
	if opts.create != "" {
		if opts.input != "" {
			return errors.New("--create and --input are mutually exclusive")
		}
		if opts.output == "" {
			return errors.New("--create requires --output")
		}
		return nil
	}
	if opts.input == "" {
		return errors.New("no input file specified (use -i)")
	}
	if !opts.list && !opts.extract && opts.output == "" {
		return errors.New("nothing to do: use -l, -e or -o")
	}
	if opts.output == "" && (opts.appID != "" || opts.platform != sng.PlatformNone) {
		return errors.New("--appid and --platform require --output")
	}
	return nil
}

func run(stdout io.Writer) error {
	if opts.create != "" {
		return runCreate()
	}

	a, err := psarc.Open(opts.input)
	if err != nil {
		return fmt.Errorf("unable to open archive: %w", err)
	}
	defer a.Close()

	header := a.Header()
	log.Debug().
		Str("path", opts.input).
		Int("files", a.Len()).
		Bool("encrypted_toc", header.IsTOCEncrypted()).
		Msg("archive opened")

	if opts.list {
		runList(stdout, a)
	}
	if opts.extract {
		if err := runExtract(a); err != nil {
			return err
		}
	}
	if opts.output != "" {
		if err := runRewrite(a); err != nil {
			return err
		}
	}
	return nil
}

func runList(w io.Writer, a *psarc.Archive) {
	for _, info := range a.List() {
		fmt.Fprintf(w, "%d %db %s\n", info.ID, info.Length, info.Name)
	}
}

func runExtract(a *psarc.Archive) error {
	dir := opts.outputDir
	if dir == "" {
		dir = psarc.DefaultOutputDir(opts.input)
	}

	extractOpts := []psarc.ExtractOption{
		psarc.WithDecrypted(!opts.raw),
		psarc.WithOverwrite(!opts.keep),
	}
	if len(opts.include) > 0 {
		extractOpts = append(extractOpts, psarc.WithPattern(opts.include...))
	}

	n, err := a.Extract(dir, extractOpts...)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	log.Info().Int("files", n).Str("dir", dir).Msg("extraction complete")
	return nil
}

func runRewrite(a *psarc.Archive) error {
	err := a.Rewrite(opts.output, psarc.RewriteOptions{
		TargetPlatform: opts.platform,
		AppID:          opts.appID,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	return nil
}

func runCreate() error {
	a := psarc.New()
	defer a.Close()

	n, err := a.AddDir(opts.create)
	if err != nil {
		return fmt.Errorf("scan %s: %w", opts.create, err)
	}
	log.Info().Int("files", n).Str("dir", opts.create).Msg("scanned input directory")

	return runRewrite(a)
}
