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
	"encoding/json"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/sigkit/internal/commands/sig"
	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/matcher"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("signatures", "s", "", "System signature directory (contains per-platform subdirectories)")
	matchCmd.Flags().StringP("user-signatures", "u", "", "User signature directory (contains per-platform subdirectories)")
	matchCmd.Flags().StringP("platform", "p", "", "Platform name override")
	matchCmd.Flags().BoolP("json", "j", false, "Output results in JSON format")
	matchCmd.MarkFlagRequired("signatures")
	viper.BindPFlag("match.signatures", matchCmd.Flags().Lookup("signatures"))
	viper.BindPFlag("match.user-signatures", matchCmd.Flags().Lookup("user-signatures"))
	viper.BindPFlag("match.platform", matchCmd.Flags().Lookup("platform"))
	viper.BindPFlag("match.json", matchCmd.Flags().Lookup("json"))
}

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:     "match <BINARY>",
	Aliases: []string{"m"},
	Short:   "Recover function names in a binary from signature bundles",
	Args:    cobra.ExactArgs(1),

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		img, err := disass.NewImage(args[0], viper.GetString("match.platform"))
		if err != nil {
			return fmt.Errorf("failed to load binary: %v", err)
		}

		cache := matcher.NewCache(matcher.Config{
			SystemDir: viper.GetString("match.signatures"),
			UserDir:   viper.GetString("match.user-signatures"),
		})
		matches := sig.MatchImage(img, cache.Get(img.Platform()))

		if len(matches) == 0 {
			log.Warn("no functions matched")
			return nil
		}

		if viper.GetBool("match.json") {
			out, err := json.MarshalIndent(matches, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal matches: %v", err)
			}
			fmt.Println(string(out))
			return nil
		}

		for _, match := range matches {
			fmt.Printf("%s:\t%s\n", color.New(color.Faint).Sprintf("%#09x", match.Address), color.New(color.Bold).Sprint(match.Name))
		}
		log.WithField("matched", len(matches)).Info("Done")

		return nil
	},
}
