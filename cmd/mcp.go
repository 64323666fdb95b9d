package cmd

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/prompts"
	"github.com/openshift/sippy-chat/internal/signal"
)

const sippyChatToolName = "sippy_chat"

const sippyChatToolDescription = `Chat with the Sippy agent to analyze CI job failures, test results and release payloads.

Sippy investigates Prow job runs, analyzes test failures, examines release payload health,
correlates failures with known incidents tracked in Jira and explains CI problems in the
OpenShift ecosystem. Pass earlier messages in chat_history to continue a conversation.`

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent over MCP on stdio",
	Long: `Expose the agent as an MCP server on stdin/stdout.

The server offers one tool, sippy_chat(message, chat_history), and every prompt
template under prompts_dir as an MCP prompt. Logs go to stderr.

Example MCP client entry:
  {"servers": {"sippy": {"command": "sippy-chat", "args": ["mcp"]}}}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	pm, err := prompts.NewManager(cfg.PromptsDir)
	if err != nil {
		return err
	}

	server := newMCPServer(rt, pm)
	log.WithField("prompts", len(pm.List())).Info("serving MCP on stdio")
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

type sippyChatInput struct {
	Message     string              `json:"message" jsonschema:"the question about CI jobs, tests or payloads"`
	ChatHistory []agent.ChatMessage `json:"chat_history,omitempty" jsonschema:"earlier messages as role and content pairs"`
}

// newMCPServer registers the sippy_chat tool and one MCP prompt per template.
func newMCPServer(rt *chatRuntime, pm *prompts.Manager) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "sippy-chat", Version: Version}, nil)
	logger := log.WithField("component", "mcp-server")

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        sippyChatToolName,
		Description: sippyChatToolDescription,
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, in sippyChatInput) (*mcpsdk.CallToolResult, any, error) {
		turn, err := rt.turnInput(in.Message, in.ChatHistory, nil, "", nil)
		if err != nil {
			return toolText("Error: "+err.Error(), true), nil, nil
		}
		res, err := rt.driver.Handle(ctx, turn, nil)
		if err != nil {
			logger.WithError(err).Error("sippy_chat failed")
			return toolText("Error: "+err.Error(), true), nil, nil
		}
		return toolText(res.FinalText, false), nil, nil
	})

	for _, p := range pm.List() {
		prompt := &mcpsdk.Prompt{Name: p.Name, Description: p.Description}
		for _, a := range p.Arguments {
			prompt.Arguments = append(prompt.Arguments, &mcpsdk.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		server.AddPrompt(prompt, func(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
			args := make(map[string]any, len(req.Params.Arguments))
			for k, v := range req.Params.Arguments {
				args[k] = v
			}
			text, err := p.Render(args)
			if err != nil {
				return nil, err
			}
			return &mcpsdk.GetPromptResult{
				Description: p.Description,
				Messages: []*mcpsdk.PromptMessage{
					{Role: "user", Content: &mcpsdk.TextContent{Text: text}},
				},
			}, nil
		})
	}
	return server
}

func toolText(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}
