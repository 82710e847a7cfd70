package commands

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "form-extractor",
	Short: "Extract structured JSON from scanned form PDFs",
	Long: `form-extractor turns a scanned multi-page PDF of forms into one JSON file
per page. Each page is rendered to an image, sent to a vision model with an
extraction prompt, and the model's JSON reply is saved as that page's
artifact. Pages that fail are recorded in a failure ledger without stopping
the rest of the document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
