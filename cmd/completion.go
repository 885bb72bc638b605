package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate shell completion script for siphon.

To load completions:

Bash:
  $ source <(siphon completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ siphon completion bash > /etc/bash_completion.d/siphon
  # macOS:
  $ siphon completion bash > $(brew --prefix)/etc/bash_completion.d/siphon

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ siphon completion zsh > "${fpath[1]}/_siphon"

  # For oh-my-zsh users:
  $ mkdir -p ~/.oh-my-zsh/custom/plugins/siphon
  $ siphon completion zsh > ~/.oh-my-zsh/custom/plugins/siphon/_siphon
  # Then add 'siphon' to your plugins array in ~/.zshrc:
  # plugins=(... siphon)

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ siphon completion fish | source

  # To load completions for each session, execute once:
  $ siphon completion fish > ~/.config/fish/completions/siphon.fish

PowerShell:
  PS> siphon completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> siphon completion powershell > siphon.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
