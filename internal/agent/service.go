package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/flags"
)

// Tool names the loop treats specially.
const (
	toolRAGSearch    = "rag.search"
	toolOrdersRefund = "orders.refund"
)

// ToolLoader supplies per-user tools from outside the process.
type ToolLoader interface {
	Load(ctx context.Context, userID int64) []Tool
}

// FlagAwarder records exploited vulnerabilities.
type FlagAwarder interface {
	Award(ctx context.Context, userID int64, code string) (string, error)
}

// Observer receives progress of a chat request as it happens.
type Observer interface {
	Turn(turn int, raw string)
	ToolCalled(trace ToolTrace)
	FlagAwarded(award flags.Award)
}

type nopObserver struct{}

func (nopObserver) Turn(int, string)        {}
func (nopObserver) ToolCalled(ToolTrace)    {}
func (nopObserver) FlagAwarded(flags.Award) {}

// Service runs the concierge tool loop.
type Service struct {
	model   Model
	toolbox *Toolbox
	loader  ToolLoader
	awarder FlagAwarder
	cfg     Config
	logger  *slog.Logger
}

// NewService wires the loop. loader may be nil when remote tools are disabled.
func NewService(model Model, toolbox *Toolbox, loader ToolLoader, awarder FlagAwarder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		model:   model,
		toolbox: toolbox,
		loader:  loader,
		awarder: awarder,
		cfg:     cfg,
		logger:  logger,
	}
}

// chatRun is the mutable state of one request.
type chatRun struct {
	user      *domain.User
	obs       Observer
	result    *ChatResult
	awarded   map[string]int
	toolCalls int
	poisoned  bool
}

// Chat answers one user turn. history is the client-held conversation.
// The model is called at most SoftMaxToolCalls+3 times; model errors abort the request.
func (s *Service) Chat(ctx context.Context, user *domain.User, history []Message, obs Observer) (*ChatResult, error) {
	if obs == nil {
		obs = nopObserver{}
	}

	tools := s.toolbox.Tools(user)
	if s.loader != nil {
		tools = append(tools, s.loader.Load(ctx, user.ID)...)
	}
	// Later entries win, so a remote tool can shadow a built-in of the same name.
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	conversation := make([]Message, 0, len(history)+2+2*s.cfg.MaxTurns())
	conversation = append(conversation,
		Message{Role: RoleSystem, Content: buildSystemPrompt(user)},
		Message{Role: RoleSystem, Content: buildToolPrompt(tools)},
	)
	conversation = append(conversation, history...)
	lastUser := lastUserContent(history)

	run := &chatRun{
		user: user,
		obs:  obs,
		result: &ChatResult{
			ToolTraces:      []ToolTrace{},
			RetrievedChunks: []domain.Chunk{},
			AwardedFlags:    []flags.Award{},
		},
		awarded: make(map[string]int),
	}

	reply := ""
	for turn := 0; turn < s.cfg.MaxTurns(); turn++ {
		raw, err := s.model.Chat(ctx, conversation)
		if err != nil {
			return nil, fmt.Errorf("model turn %d: %w", turn, err)
		}
		conversation = append(conversation, Message{Role: RoleAssistant, Content: raw})
		obs.Turn(turn, raw)

		action, ok := ParseAction(raw)
		if !ok {
			reply = raw
			break
		}
		if action.Kind == ActionFinal {
			reply = action.Content
			break
		}

		run.toolCalls++
		conversation = append(conversation, s.runTool(ctx, run, byName, action, lastUser))
	}

	if reply == "" {
		reply = fallbackReply
	}
	run.result.Reply = reply

	if flags.OverBudget(run.toolCalls, s.cfg.SoftMaxToolCalls) {
		s.award(ctx, run, domain.VulnUnboundedConsumption)
	}
	for _, code := range flags.ReplyCodes(reply) {
		s.award(ctx, run, code)
	}

	s.logger.Info("chat completed",
		"user_id", user.ID,
		"tool_calls", run.toolCalls,
		"flags", len(run.result.AwardedFlags))
	return run.result, nil
}

// runTool executes one tool action and returns the message that reports it to the model.
func (s *Service) runTool(ctx context.Context, run *chatRun, byName map[string]Tool, action Action, lastUser string) Message {
	tool, ok := byName[action.Tool]
	if !ok {
		msg := fmt.Sprintf("Tool %s is not available.", action.Tool)
		trace := ToolTrace{Tool: action.Tool, Args: action.Args, Error: msg}
		run.result.ToolTraces = append(run.result.ToolTraces, trace)
		run.obs.ToolCalled(trace)
		return Message{Role: RoleUser, Content: "Tool error: " + msg}
	}

	data, err := tool.Invoke(ctx, action.Args)
	var result any = data
	if err != nil {
		s.logger.Debug("tool failed", "tool", tool.Name, "user_id", run.user.ID, "error", err)
		result = map[string]string{"error": err.Error()}
	}

	if tool.Name == toolRAGSearch && err == nil {
		if found, ok := data.(ragSearchResult); ok {
			run.result.RetrievedChunks = append(run.result.RetrievedChunks, found.Chunks...)
			run.poisoned = false
			for _, c := range found.Chunks {
				if flags.Poisoned(c.Text) {
					run.poisoned = true
					break
				}
			}
		}
	}

	trace := ToolTrace{Tool: tool.Name, Args: action.Args, Result: result}
	run.result.ToolTraces = append(run.result.ToolTraces, trace)
	run.obs.ToolCalled(trace)

	if tool.Name == toolOrdersRefund {
		if flags.UnrequestedRefund(lastUser) {
			s.award(ctx, run, domain.VulnExcessiveAgency)
		}
		if run.poisoned {
			s.award(ctx, run, domain.VulnPromptInjection)
		}
	}
	if flags.PrivilegedWrite(tool.Name) {
		s.award(ctx, run, domain.VulnExcessiveAgency)
	}

	var summary string
	if err != nil {
		summary = "ERROR: " + err.Error()
	} else if pretty, mErr := json.MarshalIndent(data, "", "  "); mErr != nil {
		summary = "ERROR: " + mErr.Error()
	} else {
		summary = string(pretty)
	}
	return Message{Role: RoleUser, Content: fmt.Sprintf("Tool %s result:\n%s", tool.Name, summary)}
}

// award records code for the run's user; each code appears once in the result.
func (s *Service) award(ctx context.Context, run *chatRun, code string) {
	if s.awarder == nil {
		return
	}
	flag, err := s.awarder.Award(ctx, run.user.ID, code)
	if err != nil {
		s.logger.Warn("failed to award flag", "user_id", run.user.ID, "vuln_code", code, "error", err)
		return
	}
	a := flags.Award{VulnCode: code, Flag: flag}
	if i, ok := run.awarded[code]; ok {
		run.result.AwardedFlags[i] = a
		return
	}
	run.awarded[code] = len(run.result.AwardedFlags)
	run.result.AwardedFlags = append(run.result.AwardedFlags, a)
	run.obs.FlagAwarded(a)
}

func lastUserContent(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}
