// Package mcpserver exposes voice profile management and transcription as
// MCP tools, served over streamable HTTP at /mcp.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxstudio/internal/dispatch"
	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/recognition"
	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// Tool names.
const (
	ToolListVoices     = "list_voices"
	ToolRegisterVoice  = "register_voice"
	ToolDeleteVoice    = "delete_voice"
	ToolTranscribeClip = "transcribe_clip"
	ToolDescribeModes  = "describe_modes"
)

// Server owns the MCP server and the components its tools call.
type Server struct {
	store  *voice.Store
	bridge *recognition.Bridge
	mcp    *mcpsdk.Server
}

// New builds the MCP server and registers every tool.
func New(store *voice.Store, bridge *recognition.Bridge, version string) *Server {
	s := &Server{
		store:  store,
		bridge: bridge,
		mcp: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: "voxstudio", Version: version},
			nil,
		),
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolListVoices,
		Description: "List the available voice profiles: pretrained speakers first, then custom voices sorted by name.",
	}, s.listVoices)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolRegisterVoice,
		Description: "Clone a custom voice from a WAV reference clip on the server's filesystem (at least 16 kHz).",
	}, s.registerVoice)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolDeleteVoice,
		Description: "Delete a custom voice profile. Pretrained speakers cannot be deleted.",
	}, s.deleteVoice)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolTranscribeClip,
		Description: "Transcribe a WAV clip on the server's filesystem, e.g. to obtain prompt text for quick cloning.",
	}, s.transcribeClip)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolDescribeModes,
		Description: "Describe the synthesis modes and the inputs each one needs.",
	}, s.describeModes)

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// ---- tool handlers ----

type ListVoicesInput struct {
	Detail bool `json:"detail,omitempty" jsonschema:"include profile metadata"`
}

type VoiceInfo struct {
	Name         string `json:"name"`
	Origin       string `json:"origin"`
	SampleRate   int    `json:"sample_rate"`
	ModelVersion string `json:"model_version,omitempty"`
}

type ListVoicesOutput struct {
	Voices   []string    `json:"voices"`
	Profiles []VoiceInfo `json:"profiles,omitempty"`
}

func (s *Server) listVoices(ctx context.Context, _ *mcpsdk.CallToolRequest, in ListVoicesInput) (*mcpsdk.CallToolResult, ListVoicesOutput, error) {
	out := ListVoicesOutput{Voices: s.store.List(ctx)}
	if in.Detail {
		for _, p := range s.store.Profiles(ctx) {
			out.Profiles = append(out.Profiles, VoiceInfo{
				Name:         p.Name,
				Origin:       string(p.Origin),
				SampleRate:   p.SampleRate,
				ModelVersion: p.ModelVersion,
			})
		}
	}
	return jsonResult(out), out, nil
}

type RegisterVoiceInput struct {
	Name     string `json:"name" jsonschema:"name of the new voice; must be a valid file name"`
	ClipPath string `json:"clip_path" jsonschema:"path of a WAV reference clip on the server"`
}

type StatusOutput struct {
	Status string `json:"status"`
}

func (s *Server) registerVoice(ctx context.Context, _ *mcpsdk.CallToolRequest, in RegisterVoiceInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	clip, err := audio.ProbeClip(in.ClipPath)
	if err != nil {
		return errorResult("save failed: " + err.Error()), StatusOutput{}, nil
	}
	p, err := s.store.Register(ctx, in.Name, &clip)
	if err != nil {
		return storeError(ctx, "save", err), StatusOutput{}, nil
	}
	out := StatusOutput{Status: "voice \"" + p.Name + "\" saved to " + p.Path}
	return textResult(out.Status), out, nil
}

type DeleteVoiceInput struct {
	Name string `json:"name" jsonschema:"name of the custom voice to delete"`
}

func (s *Server) deleteVoice(ctx context.Context, _ *mcpsdk.CallToolRequest, in DeleteVoiceInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	if err := s.store.Delete(ctx, in.Name); err != nil {
		return storeError(ctx, "delete", err), StatusOutput{}, nil
	}
	out := StatusOutput{Status: "voice \"" + in.Name + "\" deleted"}
	return textResult(out.Status), out, nil
}

type TranscribeClipInput struct {
	ClipPath string `json:"clip_path" jsonschema:"path of a WAV clip on the server"`
}

type TranscribeClipOutput struct {
	Text string `json:"text"`
}

func (s *Server) transcribeClip(ctx context.Context, _ *mcpsdk.CallToolRequest, in TranscribeClipInput) (*mcpsdk.CallToolResult, TranscribeClipOutput, error) {
	clip, err := audio.ProbeClip(in.ClipPath)
	if err != nil {
		return errorResult(recognition.FailurePrefix + err.Error()), TranscribeClipOutput{}, nil
	}
	text := s.bridge.Transcribe(ctx, &clip)
	out := TranscribeClipOutput{Text: text}
	if recognition.IsFailure(text) {
		return errorResult(text), out, nil
	}
	return textResult(text), out, nil
}

type DescribeModesInput struct{}

type ModeInfo struct {
	Mode         string `json:"mode"`
	Instructions string `json:"instructions"`
}

type DescribeModesOutput struct {
	Modes []ModeInfo `json:"modes"`
}

func (s *Server) describeModes(context.Context, *mcpsdk.CallToolRequest, DescribeModesInput) (*mcpsdk.CallToolResult, DescribeModesOutput, error) {
	var out DescribeModesOutput
	for _, m := range dispatch.Modes() {
		out.Modes = append(out.Modes, ModeInfo{Mode: string(m), Instructions: dispatch.Instructions(m)})
	}
	return jsonResult(out), out, nil
}

// ---- results ----

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

// storeError reports a store failure without the engine's own message.
func storeError(ctx context.Context, op string, err error) *mcpsdk.CallToolResult {
	if errors.Is(err, types.ErrEngineFailure) {
		observe.Logger(ctx).Warn("mcpserver: engine failure", "op", op, "err", err)
	}
	return errorResult(voice.UserMessage(op, err))
}

func errorResult(text string) *mcpsdk.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}

func jsonResult(v any) *mcpsdk.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return textResult(string(raw))
}
