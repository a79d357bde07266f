package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/askdoc/internal/helpers"
	"github.com/mohammad-safakhou/askdoc/internal/llm"
)

// finalAnswerAction ends the loop; every other action must name a tool.
const finalAnswerAction = "final_answer"

const noResponseAnswer = "I encountered an error and could not provide a response."

// ProcessingErrorAnswer replaces the answer of a question whose pipeline
// failed, keeping the answers array aligned with the questions array.
const ProcessingErrorAnswer = "An error occurred while processing this question."

// Agent runs the bounded tool-selection loop for a single question set. It
// keeps a per-question scratchpad only; nothing survives the run.
type Agent struct {
	provider      llm.Provider
	router        *Router
	maxIterations int
	logger        *log.Logger
}

func New(provider llm.Provider, router *Router, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Agent{
		provider:      provider,
		router:        router,
		maxIterations: maxIterations,
		logger:        log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
}

const completionPrompt = `You are an AI assistant. Your task is to analyze the user's input.
- If the input is already a complete, well-formed question, return it exactly as it is.
- If the input is an incomplete sentence fragment, complete it into the most likely, specific, and detailed question the user was trying to ask based on the context of an insurance policy.

Return ONLY the final, complete question and nothing else.

Input: "%s"
Completed Question:`

// CompleteQuestion turns a fragment into a full question. Inputs that
// already contain a question mark or run longer than ten words pass
// through untouched, and any LLM failure falls back to the fragment.
func (a *Agent) CompleteQuestion(ctx context.Context, fragment string) string {
	if strings.Contains(fragment, "?") || len(strings.Fields(fragment)) > 10 {
		return fragment
	}
	a.logger.Printf("completing fragment: %q", fragment)

	out, err := a.provider.Generate(ctx, fmt.Sprintf(completionPrompt, fragment))
	if err != nil {
		a.logger.Printf("question completion failed, keeping fragment: %v", err)
		return fragment
	}
	completed := strings.TrimSpace(out)
	if completed == "" {
		return fragment
	}
	return completed
}

type agentAction struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
}

const loopPromptTemplate = `You are an assistant answering questions about a single document using tools.

Available tools:
%s

Respond with a single JSON object and nothing else:
{"thought": "<your reasoning>", "action": "<tool name or %q>", "action_input": "<tool query or final answer>"}

Use %q as the action once you can answer the question from the observations.

Question: %s
%s`

// ProcessQuestion answers one question with at most maxIterations tool
// turns. It always returns a string: malformed model output becomes a
// best-effort answer and a panic anywhere below becomes the per-question
// error string.
func (a *Agent) ProcessQuestion(ctx context.Context, question string) (answer string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("question panicked: %v", r)
			answer = ProcessingErrorAnswer
		}
	}()

	var scratchpad []string
	lastObservation := ""

	for i := 0; i < a.maxIterations; i++ {
		raw, err := a.provider.Generate(ctx, a.loopPrompt(question, scratchpad))
		if err != nil {
			a.logger.Printf("agent turn %d failed: %v", i+1, err)
			if lastObservation != "" {
				return lastObservation
			}
			return noResponseAnswer
		}

		action, ok := parseAction(raw)
		if !ok {
			// The model broke protocol; its text is still the best
			// answer we have.
			a.logger.Printf("unparseable agent output, using it as the answer")
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				return trimmed
			}
			return noResponseAnswer
		}

		if action.Action == finalAnswerAction {
			return action.ActionInput
		}

		tool, found := a.router.Lookup(action.Action)
		var observation string
		if !found {
			observation = fmt.Sprintf("Unknown tool %q. Choose one of: %s.", action.Action, strings.Join(a.toolNames(), ", "))
		} else {
			a.logger.Printf("tool engaged: %s", tool.Name())
			observation = tool.Invoke(ctx, action.ActionInput)
		}
		lastObservation = observation
		scratchpad = append(scratchpad, fmt.Sprintf("Action: %s\nAction Input: %s\nObservation: %s", action.Action, action.ActionInput, observation))
	}

	if lastObservation != "" {
		return lastObservation
	}
	return noResponseAnswer
}

func (a *Agent) loopPrompt(question string, scratchpad []string) string {
	var tools strings.Builder
	for _, t := range a.router.Tools() {
		fmt.Fprintf(&tools, "- %s: %s\n", t.Name(), t.Description())
	}
	history := ""
	if len(scratchpad) > 0 {
		history = "\nPrevious steps:\n" + strings.Join(scratchpad, "\n\n") + "\n"
	}
	return fmt.Sprintf(loopPromptTemplate, tools.String(), finalAnswerAction, finalAnswerAction, question, history)
}

func (a *Agent) toolNames() []string {
	names := make([]string, 0, len(a.router.Tools()))
	for _, t := range a.router.Tools() {
		names = append(names, t.Name())
	}
	return names
}

func parseAction(raw string) (agentAction, bool) {
	payload, err := helpers.ExtractJSON(raw)
	if err != nil {
		return agentAction{}, false
	}
	var action agentAction
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		return agentAction{}, false
	}
	if action.Action == "" {
		return agentAction{}, false
	}
	return action, true
}
