/*
Copyright © 2026 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/sigkit/internal/commands/sig"
	"github.com/blacktop/sigkit/pkg/signature"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringP("output", "o", "", "Signature bundle output file (default: input path with "+signature.Ext+" extension)")
	createCmd.Flags().BoolP("overwrite", "f", false, "Overwrite existing output file")
	createCmd.Flags().StringP("platform", "p", "", "Platform name override")
	createCmd.Flags().Bool("keep-unnamed", false, "Include functions with auto-generated names")
	viper.BindPFlag("create.output", createCmd.Flags().Lookup("output"))
	viper.BindPFlag("create.overwrite", createCmd.Flags().Lookup("overwrite"))
	viper.BindPFlag("create.platform", createCmd.Flags().Lookup("platform"))
	viper.BindPFlag("create.keep-unnamed", createCmd.Flags().Lookup("keep-unnamed"))
}

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:     "create <PATH>",
	Aliases: []string{"c"},
	Short:   "Create a signature bundle from a binary, directory, or static archive",
	Long: `Create a signature bundle from PATH, which may be:
  - a binary (ELF or MachO)
  - a directory (all contained files are merged)
  - a static archive (.a, .lib, .rlib; members are extracted and merged)
  - an existing signature bundle (passthrough)`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		output := viper.GetString("create.output")
		if output == "" {
			output = sig.DefaultOutput(args[0])
		}
		if _, err := os.Stat(output); err == nil && !viper.GetBool("create.overwrite") {
			log.WithField("output", output).Info("output file already exists, skipping")
			return nil
		}

		log.WithField("path", args[0]).Info("Creating signature functions")
		start := time.Now()
		data, err := sig.DataFromPath(args[0], &sig.Config{
			Platform:    viper.GetString("create.platform"),
			KeepUnnamed: viper.GetBool("create.keep-unnamed"),
			Progress:    !viper.GetBool("verbose"),
		})
		if err != nil {
			return fmt.Errorf("failed to create signature data: %v", err)
		}
		log.WithField("took", time.Since(start).String()).Info("Signature functions created")

		if len(data.Functions) == 0 {
			log.WithField("path", args[0]).Warn("no functions found")
			return nil
		}

		out, err := data.ToBytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, out, 0o644); err != nil {
			return fmt.Errorf("failed to write signature bundle: %v", err)
		}
		log.WithFields(log.Fields{
			"functions": len(data.Functions),
			"output":    output,
		}).Info("Signature bundle written")

		return nil
	},
}
