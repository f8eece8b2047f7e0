package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

var yesNoConstraints = []string{"y", "n"}

func YesOrNo(question string) (string, error) {
	return Prompt(question, yesNoConstraints...)
}

// Prompt asks a question; the first constraint is the default answer.
func Prompt(question string, constraints ...string) (string, error) {
	if len(constraints) == 0 {
		rl, err := readline.New(question)
		if err != nil {
			return "", err
		}
		defer rl.Close()
		return rl.Readline()
	}
	def := strings.ToUpper(constraints[0])
	var prompt strings.Builder
	prompt.WriteString(question)
	prompt.WriteString(" [")
	prompt.WriteString(def)
	for i := 1; i < len(constraints); i++ {
		prompt.WriteString("/")
		prompt.WriteString(constraints[i])
	}
	prompt.WriteString("]:")
	rl, err := readline.New(prompt.String())
	if err != nil {
		return "", err
	}
	defer rl.Close()
	response, err := rl.Readline()
	if err != nil {
		return "", err
	}
	// return default on no input
	if response == "" {
		return constraints[0], nil
	}
	normalized := strings.ToLower(response)
	for _, c := range constraints {
		if normalized == c {
			return normalized, nil
		}
	}
	// no constraint matched, return default
	return constraints[0], nil
}

// Shell opens an interactive prompt completing the given commands.
func Shell(prompt string, commands ...string) (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
}
