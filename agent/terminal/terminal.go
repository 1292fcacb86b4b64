package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ahmkhn/klaviyo-nexus/agent"
	"github.com/ahmkhn/klaviyo-nexus/session"
)

// Terminal is a local REPL over the agent, mainly for development against a
// private API key instead of the full OAuth flow. It plays the caller's
// role: keeping history between turns and rendering approval prompts.
type Terminal struct {
	agent   *agent.Agent
	token   string
	sess    *session.Session
	verbose bool
}

// New creates a new Terminal instance. token is the Klaviyo access token
// used for every turn.
func New(a *agent.Agent, token string, sess *session.Session, verbose bool) *Terminal {
	return &Terminal{
		agent:   a,
		token:   token,
		sess:    sess,
		verbose: verbose,
	}
}

// Run starts the interactive terminal session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
	return scanner.Err()
}

// processTurn handles a single user input turn, including the approve/deny
// round-trip when the agent stages an action.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	result, err := t.agent.RunChatTurn(ctx, userInput, &t.sess.Messages, t.token)
	if err != nil {
		return err
	}
	if t.verbose {
		for _, line := range result.Trace {
			fmt.Println(line)
		}
	}
	fmt.Printf("Nexus: %s\n", result.Reply.Content)

	if result.ActionRequired != nil {
		fmt.Print("Do you want to allow this? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) == "y" {
			approveMsg := fmt.Sprintf("Approved. Run execute_action with approval_id %s.", result.ActionRequired.ApprovalID)
			followUp, err := t.agent.RunChatTurn(ctx, approveMsg, &t.sess.Messages, t.token)
			if err != nil {
				return err
			}
			fmt.Printf("Nexus: %s\n", followUp.Reply.Content)
		} else {
			fmt.Println("Action discarded.")
		}
	}

	if err := t.sess.Save(); err != nil {
		fmt.Printf("Warning: failed to save session: %v\n", err)
	}
	return nil
}
