package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var completionInstall bool

// shellSetup holds everything completion support needs per shell: the
// generator, where an installed script lives relative to $HOME, and the
// hint printed after installing.
type shellSetup struct {
	generate func(io.Writer) error
	target   func(home string) string
	loadHint string
}

var shellSetups = map[string]shellSetup{
	"bash": {
		generate: func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
		target: func(home string) string {
			return filepath.Join(home, ".local", "share", "bash-completion", "completions", "tasksync")
		},
		loadHint: "Restart your shell or source the installed file.",
	},
	"zsh": {
		generate: rootCmd.GenZshCompletion,
		target: func(home string) string {
			return filepath.Join(home, ".local", "share", "zsh", "site-functions", "_tasksync")
		},
		loadHint: "Make sure the directory is in your fpath, then run: autoload -Uz compinit && compinit",
	},
	"fish": {
		generate: func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
		target: func(home string) string {
			return filepath.Join(home, ".config", "fish", "completions", "tasksync.fish")
		},
		loadHint: "New fish sessions pick completions up automatically.",
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Generate shell completions for tasksync",
	Long: `Generate tab-completions for tasksync commands and flags.

Print the script to stdout for manual setup:

  tasksync completion bash
  eval "$(tasksync completion bash)"

Or install it into the user-local completion directory:

  tasksync completion zsh --install`,
	ValidArgs: []string{"bash", "zsh", "fish"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runCompletion,
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Write the completion script to your shell's user-local completion directory")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	setup, ok := shellSetups[args[0]]
	if !ok {
		return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish)", args[0])
	}
	if completionInstall {
		return installCompletion(args[0], setup)
	}
	return setup.generate(cmd.OutOrStdout())
}

func installCompletion(shell string, setup shellSetup) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("detecting home directory: %w", err)
	}
	target := setup.target(home)

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating completion directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating completion file %s: %w", target, err)
	}
	writeErr := setup.generate(f)
	closeErr := f.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}

	fmt.Printf("%s completions installed to %s\n", shell, target)
	fmt.Println(setup.loadHint)
	return nil
}
